/*Package parameter implements the named, typed, validated parameter
surface shared by every driver in this repository.

A driver declares one Parameter per instrument setting or reading and
registers them in a Table.  The host (HTTP layer, monitor, scripts) then
works against the uniform Get/Set/Snapshot surface instead of per-device
methods.  Parameters carry a kind from go/types, matching the payload
types used over the wire, and an optional validator that rejects bad
values before any bytes reach the hardware.
*/
package parameter

import (
	"errors"
	"fmt"
	"go/types"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownParameter is generated when a name is not in the table
	ErrUnknownParameter = errors.New("unknown parameter")

	// ErrNotSettable is generated on Set of a read-only parameter
	ErrNotSettable = errors.New("parameter is read-only")

	// ErrNotGettable is generated on Get of a write-only parameter
	ErrNotGettable = errors.New("parameter is write-only")
)

// Validator screens candidate values before they are written to hardware
type Validator interface {
	Validate(v interface{}) error
}

// Range is a Validator for floating point values on a closed interval
type Range struct {
	Min, Max float64
}

// Validate satisfies Validator
func (r Range) Validate(v interface{}) error {
	f, ok := toFloat(v)
	if !ok {
		return fmt.Errorf("expected a number, got %T", v)
	}
	if f < r.Min || f > r.Max {
		return fmt.Errorf("value %g outside range [%g, %g]", f, r.Min, r.Max)
	}
	return nil
}

// Ints is a Validator for integers on a closed interval
type Ints struct {
	Min, Max int
}

// Validate satisfies Validator
func (i Ints) Validate(v interface{}) error {
	f, ok := toFloat(v)
	if !ok || f != float64(int(f)) {
		return fmt.Errorf("expected an integer, got %v", v)
	}
	n := int(f)
	if n < i.Min || n > i.Max {
		return fmt.Errorf("value %d outside range [%d, %d]", n, i.Min, i.Max)
	}
	return nil
}

// Enum is a Validator restricting strings to a fixed vocabulary
type Enum []string

// Validate satisfies Validator
func (e Enum) Validate(v interface{}) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("expected a string, got %T", v)
	}
	for _, allowed := range e {
		if s == allowed {
			return nil
		}
	}
	return fmt.Errorf("value %q not one of {%s}", s, strings.Join(e, ", "))
}

func toFloat(v interface{}) (float64, bool) {
	switch c := v.(type) {
	case float64:
		return c, true
	case float32:
		return float64(c), true
	case int:
		return float64(c), true
	case int64:
		return float64(c), true
	}
	return 0, false
}

// Parameter is a single named instrument setting or reading
type Parameter struct {
	// Name identifies the parameter within its table, e.g. "frequency"
	Name string

	// Unit is the physical unit of the value, e.g. "Hz".  May be empty.
	Unit string

	// Kind is the type of the value as seen by the host
	Kind types.BasicKind

	// Vals, if non-nil, screens values passed to Set
	Vals Validator

	// Getter reads the value from the hardware.  nil for write-only parameters.
	Getter func() (interface{}, error)

	// Setter writes the value to the hardware.  nil for read-only parameters.
	Setter func(interface{}) error
}

// Table is a registry of parameters belonging to one instrument.
// It is concurrent safe.
type Table struct {
	mu     sync.Mutex
	params map[string]*Parameter
}

// NewTable creates an empty parameter table
func NewTable() *Table {
	return &Table{params: make(map[string]*Parameter)}
}

// Add registers a parameter, replacing any previous one of the same name
func (t *Table) Add(p Parameter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.params[p.Name] = &p
}

// Lookup returns the parameter with the given name
func (t *Table) Lookup(name string) (*Parameter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.params[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	return p, nil
}

// Names returns the sorted names of all parameters in the table
func (t *Table) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.params))
	for name := range t.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get reads the named parameter from the hardware
func (t *Table) Get(name string) (interface{}, error) {
	p, err := t.Lookup(name)
	if err != nil {
		return nil, err
	}
	if p.Getter == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotGettable, name)
	}
	return p.Getter()
}

// Set validates v and writes it to the hardware
func (t *Table) Set(name string, v interface{}) error {
	p, err := t.Lookup(name)
	if err != nil {
		return err
	}
	if p.Setter == nil {
		return fmt.Errorf("%w: %s", ErrNotSettable, name)
	}
	if p.Vals != nil {
		if err := p.Vals.Validate(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return p.Setter(v)
}

// Snapshot reads every gettable parameter.  Read failures are recorded
// as strings under the parameter's name rather than aborting the sweep,
// so one dead sensor does not hide the rest of the instrument.
func (t *Table) Snapshot() map[string]interface{} {
	out := make(map[string]interface{})
	for _, name := range t.Names() {
		p, err := t.Lookup(name)
		if err != nil || p.Getter == nil {
			continue
		}
		v, err := p.Getter()
		if err != nil {
			out[name] = fmt.Sprintf("<error: %s>", err)
			continue
		}
		out[name] = v
	}
	return out
}
