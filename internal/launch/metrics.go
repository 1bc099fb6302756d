package launch

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	buildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archer_launch_builds_total",
		Help: "Total number of successfully resolved launch configurations",
	})

	buildErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archer_launch_build_errors_total",
		Help: "Total number of failed launch resolutions by failure class",
	}, []string{"reason"})
)

func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrUnderSpecified):
		return "under_specified"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, ErrInvalidMode):
		return "invalid_mode"
	default:
		return "other"
	}
}
