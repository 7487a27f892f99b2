package scheduler

import (
	"errors"
	"sort"
	"strings"

	logx "clockd/pkg/logx"
)

// weekdayTokens is the fixed schedule vocabulary. Numbers follow cron's
// day-of-week convention: Sunday is 0.
var weekdayTokens = map[string]int{
	"Su": 0,
	"M":  1,
	"T":  2,
	"W":  3,
	"Th": 4,
	"F":  5,
	"Sa": 6,
}

// ErrNoWeekdays means a schedule's weekday list contained no usable token.
// Such a schedule would never fire, so it is rejected instead of installed.
var ErrNoWeekdays = errors.New("no valid weekdays")

// WeekdayNumbers maps tokens to cron day-of-week numbers. Unknown tokens are
// dropped with a warning; duplicates collapse. The result is sorted.
func WeekdayNumbers(tokens []string, log logx.Logger) ([]int, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	seen := map[int]bool{}
	var days []int
	for _, tok := range tokens {
		n, ok := weekdayTokens[strings.TrimSpace(tok)]
		if !ok {
			log.Warn("dropping unknown weekday token", logx.String("token", tok))
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		days = append(days, n)
	}
	if len(days) == 0 {
		return nil, ErrNoWeekdays
	}
	sort.Ints(days)
	return days, nil
}

// KnownWeekday reports whether tok is part of the schedule vocabulary.
func KnownWeekday(tok string) bool {
	_, ok := weekdayTokens[strings.TrimSpace(tok)]
	return ok
}
