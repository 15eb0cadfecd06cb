package reconfigure

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Consenter — шлюз согласия оператора: после N реконфигураций контур
// спрашивает, продолжать ли. "Нет" останавливает контур на границе цикла.
type Consenter interface {
	Continue(ctx context.Context) (bool, error)
}

// StdinConsenter задает вопрос в терминал и читает ответ.
type StdinConsenter struct {
	in  *bufio.Scanner
	out io.Writer
}

func NewStdinConsenter(in io.Reader, out io.Writer) *StdinConsenter {
	return &StdinConsenter{in: bufio.NewScanner(in), out: out}
}

func (c *StdinConsenter) Continue(ctx context.Context) (bool, error) {
	fmt.Fprint(c.out, "Do you want to continue Monitoring? (yes/no) ")

	type answer struct {
		text string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		if !c.in.Scan() {
			ch <- answer{err: io.EOF}
			return
		}
		ch <- answer{text: c.in.Text()}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			// stdin закрыт — трактуем как отказ, контуру пора останавливаться
			return false, nil
		}
		return strings.EqualFold(strings.TrimSpace(a.text), "yes"), nil
	}
}

// AlwaysConsent — согласие без оператора (headless-запуск лабы).
type AlwaysConsent struct{}

func (AlwaysConsent) Continue(ctx context.Context) (bool, error) { return true, nil }
