package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/soundsentry/soundsentry/pkg/classifier"
	"github.com/soundsentry/soundsentry/pkg/publish"
)

// ClassifierChecker reports ready once the engine is loaded with a non-zero
// class cardinality.
func ClassifierChecker(e classifier.Engine) Checker {
	return Checker{
		Name: "classifier",
		Check: func(context.Context) error {
			if e == nil {
				return errors.New("no classifier engine")
			}
			if e.Classes() == 0 {
				return errors.New("classifier reports zero classes")
			}
			return nil
		},
	}
}

// connectable is implemented by sinks that hold a broker connection.
type connectable interface {
	Connected() bool
}

// SinkChecker reports whether the publish sink can accept events. Sinks
// without a connection (the log sink) are always ready.
func SinkChecker(s publish.Sink) Checker {
	return Checker{
		Name: "sink",
		Check: func(context.Context) error {
			if s == nil {
				return errors.New("no publish sink")
			}
			if c, ok := s.(connectable); ok && !c.Connected() {
				return errors.New("sink disconnected")
			}
			return nil
		},
	}
}

// SourcesChecker reports ready while at least one source is streaming.
// states returns the current worker state per source name.
func SourcesChecker(states func() map[string]string) Checker {
	return Checker{
		Name: "sources",
		Check: func(context.Context) error {
			all := states()
			if len(all) == 0 {
				return errors.New("no sources configured")
			}
			var down []string
			streaming := 0
			for name, state := range all {
				if state == "streaming" {
					streaming++
					continue
				}
				down = append(down, fmt.Sprintf("%s=%s", name, state))
			}
			if streaming == 0 {
				sort.Strings(down)
				return fmt.Errorf("no source streaming: %s", strings.Join(down, " "))
			}
			return nil
		},
	}
}
