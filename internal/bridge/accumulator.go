package bridge

import (
	"strings"

	"github.com/drewfead/hermes/internal/runtime"
)

// accumulator assembles assistant output from text part events. Deltas
// append in arrival order; full-text payloads contribute only the suffix
// beyond what was already accumulated for that part, so a final snapshot
// after its deltas adds nothing.
type accumulator struct {
	order []string
	parts map[string]*partState
}

type partState struct {
	buf  strings.Builder
	seen int
}

func newAccumulator() *accumulator {
	return &accumulator{parts: make(map[string]*partState)}
}

// apply folds one text part event in. Returns true when the accumulated
// output changed.
func (a *accumulator) apply(p *runtime.TextPart) bool {
	if p == nil || p.ID == "" {
		return false
	}

	st, ok := a.parts[p.ID]
	if !ok {
		st = &partState{}
		a.parts[p.ID] = st
		a.order = append(a.order, p.ID)
	}

	if p.Delta != "" {
		st.buf.WriteString(p.Delta)
		st.seen += len(p.Delta)
		return true
	}

	if len(p.Text) > st.seen {
		st.buf.WriteString(p.Text[st.seen:])
		st.seen = len(p.Text)
		return true
	}
	return false
}

// String returns the accumulated output, parts joined in first-seen order.
func (a *accumulator) String() string {
	var texts []string
	for _, id := range a.order {
		if s := a.parts[id].buf.String(); s != "" {
			texts = append(texts, s)
		}
	}
	return strings.Join(texts, "\n\n")
}
