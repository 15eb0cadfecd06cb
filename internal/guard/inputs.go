package guard

import (
	"fmt"
	"strings"
)

// MaxLogLimit — жесткий потолок для выборки строк телеметрии.
const MaxLogLimit = 10000

// ValidateReconfigureInput проверяет параметры реконфигурации: UE должен
// входить в известный набор (без учета регистра), обе доли — в [0,100],
// сумма — ровно 100. Нарушения накапливаются, по одному на каждое
// нарушенное ограничение.
func ValidateReconfigureInput(ue string, value1, value2 int, knownUEs []string) (bool, []string) {
	var issues []string

	known := false
	for _, k := range knownUEs {
		if strings.EqualFold(ue, k) {
			known = true
			break
		}
	}
	if !known {
		issues = append(issues, fmt.Sprintf("invalid UE %q: must be one of %v", ue, knownUEs))
	}

	if value1 < 0 || value1 > 100 {
		issues = append(issues, fmt.Sprintf("value_1 %d out of range [0-100]", value1))
	}
	if value2 < 0 || value2 > 100 {
		issues = append(issues, fmt.Sprintf("value_2 %d out of range [0-100]", value2))
	}
	if value1+value2 != 100 {
		issues = append(issues, fmt.Sprintf("slice values must sum to 100, got %d", value1+value2))
	}

	return len(issues) == 0, issues
}

// ValidateLogLimit проверяет запрошенный лимит строк телеметрии:
// строго положительный и не больше MaxLogLimit.
func ValidateLogLimit(limit int) (bool, []string) {
	var issues []string

	if limit <= 0 {
		issues = append(issues, fmt.Sprintf("limit must be positive, got %d", limit))
	}
	if limit > MaxLogLimit {
		issues = append(issues, fmt.Sprintf("limit too large: %d, maximum is %d", limit, MaxLogLimit))
	}

	return len(issues) == 0, issues
}
