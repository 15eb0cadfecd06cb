package guard

import (
	"fmt"
	"strings"

	"github.com/xela07ax/slicepilot/internal/domain"
	"go.uber.org/zap"
)

/*
Файл validator.go — слой guardrails: декларативная проверка входов и
выходов перед исполнением внешних действий. Слой чистый: никакого I/O
кроме логирования, никакого состояния кроме набора правил и режима.
*/

// Validator применяет набор правил к значению согласно режиму.
type Validator struct {
	mode   Mode
	rules  []Rule
	logger *zap.Logger
}

func NewValidator(mode Mode, logger *zap.Logger, rules ...Rule) *Validator {
	return &Validator{
		mode:   mode,
		rules:  rules,
		logger: logger.Named("guard"),
	}
}

func (v *Validator) Mode() Mode { return v.mode }

// AddRule дополняет набор правил валидатора.
func (v *Validator) AddRule(rule Rule) {
	v.rules = append(v.rules, rule)
	v.logger.Info("guardrail rule added", zap.String("rule", rule.Name))
}

// Validate прогоняет значение через все правила. Нарушения накапливаются,
// а не обрываются на первом. В strict возвращается ошибка
// domain.ErrValidationFailed; в warning — только лог и false.
func (v *Validator) Validate(value any) (bool, error) {
	if v.mode == ModeDisabled {
		return true, nil
	}

	var violations []string
	for _, rule := range v.rules {
		if !applyRule(value, rule) {
			violations = append(violations, fmt.Sprintf("rule %q violated", rule.Name))
		}
	}

	if len(violations) == 0 {
		return true, nil
	}

	msg := strings.Join(violations, "; ")
	if v.mode == ModeStrict {
		return false, fmt.Errorf("%w: %s", domain.ErrValidationFailed, msg)
	}
	v.logger.Warn("guardrail violations", zap.String("violations", msg))
	return false, nil
}

// applyRule — диспетчер по закрытому множеству видов правил.
func applyRule(value any, rule Rule) bool {
	switch rule.Kind {
	case KindPattern:
		s, ok := value.(string)
		if !ok {
			return false
		}
		return rule.Pattern.MatchString(s)

	case KindEnum:
		target := fieldValue(value, rule.Field)
		s, ok := target.(string)
		if !ok {
			return false
		}
		for _, allowed := range rule.Allowed {
			if strings.EqualFold(s, allowed) {
				return true
			}
		}
		return false

	case KindRange:
		target := fieldValue(value, rule.Field)
		f, ok := toFloat(target)
		if !ok {
			return false
		}
		return f >= rule.Min && f <= rule.Max

	default:
		return true
	}
}

// fieldValue достает именованное поле из map-значения; без Field
// возвращает само значение.
func fieldValue(value any, field string) any {
	if field == "" {
		return value
	}
	if m, ok := value.(map[string]any); ok {
		return m[field]
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
