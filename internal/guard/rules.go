package guard

import (
	"fmt"
	"regexp"
)

// Mode определяет поведение валидатора при нарушении правила.
type Mode string

const (
	ModeStrict   Mode = "strict"   // Первое нарушение — жесткая ошибка, действие прерывается
	ModeWarning  Mode = "warning"  // Нарушения логируются, действие продолжается
	ModeDisabled Mode = "disabled" // Проверки не выполняются вовсе
)

// ParseMode разбирает режим из конфига. Неизвестное значение — strict,
// по принципу "безопасность по умолчанию".
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeStrict, ModeWarning, ModeDisabled:
		return Mode(s)
	default:
		return ModeStrict
	}
}

// RuleKind — закрытое множество видов правил. Диспетчеризация идет
// switch-ом по типу, а не сравнением строк.
type RuleKind int

const (
	KindPattern RuleKind = iota // Строка должна матчиться регуляркой с начала
	KindEnum                    // Значение должно входить в разрешенный набор
	KindRange                   // Число должно лежать в [Min, Max] включительно
)

// Rule — декларативное правило-предикат над проверяемым значением.
// Field, если задан, адресует именованное поле map-значения.
type Rule struct {
	Name    string
	Kind    RuleKind
	Field   string
	Pattern *regexp.Regexp // только для KindPattern
	Allowed []string       // только для KindEnum
	Min     float64        // только для KindRange
	Max     float64
}

// PatternRule компилирует регулярку с якорем в начале строки.
func PatternRule(name, expr string) (Rule, error) {
	if len(expr) == 0 || expr[0] != '^' {
		expr = "^" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Rule{}, fmt.Errorf("guard: bad pattern for rule %q: %w", name, err)
	}
	return Rule{Name: name, Kind: KindPattern, Pattern: re}, nil
}

func EnumRule(name, field string, allowed ...string) Rule {
	return Rule{Name: name, Kind: KindEnum, Field: field, Allowed: allowed}
}

func RangeRule(name, field string, min, max float64) Rule {
	return Rule{Name: name, Kind: KindRange, Field: field, Min: min, Max: max}
}
