package condition

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ParseFunc turns a stored condition value into a typed Condition.
type ParseFunc func(raw string) (Condition, error)

// Registry maps condition types to their parsers.
// Built-in types are registered by NewRegistry; adapters may add more.
type Registry struct {
	mu       sync.RWMutex
	parsers  map[Type]ParseFunc
	location *time.Location
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLocation sets the reference timezone used by time_range conditions.
// Defaults to UTC.
func WithLocation(loc *time.Location) RegistryOption {
	return func(r *Registry) {
		if loc != nil {
			r.location = loc
		}
	}
}

// NewRegistry creates a Registry with all built-in condition types.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		parsers:  make(map[Type]ParseFunc),
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(r)
	}

	loc := r.location
	r.parsers[TypeIPRange] = func(raw string) (Condition, error) { return ParseIPRange(raw) }
	r.parsers[TypeTimeRange] = func(raw string) (Condition, error) { return ParseTimeWindow(raw, loc) }
	r.parsers[TypeRiskScore] = func(raw string) (Condition, error) { return ParseRiskThreshold(raw) }
	r.parsers[TypeAuthStrength] = func(raw string) (Condition, error) { return ParseAuthStrength(raw) }
	r.parsers[TypeMFARequired] = func(raw string) (Condition, error) { return ParseMFARequired(raw) }

	r.parsers[TypeDeviceType] = oneOfParser(TypeDeviceType, func(a Attributes) string { return a.DeviceType })
	r.parsers[TypeLocation] = oneOfParser(TypeLocation, func(a Attributes) string { return a.Location })
	r.parsers[TypeGeoLocation] = oneOfParser(TypeGeoLocation, func(a Attributes) string { return a.GeoLocation })
	r.parsers[TypeConnectionType] = oneOfParser(TypeConnectionType, func(a Attributes) string { return a.ConnectionType })
	r.parsers[TypeDepartment] = oneOfParser(TypeDepartment, func(a Attributes) string { return a.Department })
	r.parsers[TypeRole] = oneOfParser(TypeRole, func(a Attributes) string { return a.Role })

	return r
}

// Register adds or replaces the parser for a condition type.
func (r *Registry) Register(t Type, fn ParseFunc) error {
	if t == "" {
		return errors.New("condition type is empty")
	}
	if fn == nil {
		return fmt.Errorf("nil parser for condition type %q", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[t] = fn
	return nil
}

// Registered reports whether a parser exists for t.
func (r *Registry) Registered(t Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.parsers[t]
	return ok
}

// Types returns the registered condition types in sorted order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.parsers))
	for t := range r.parsers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Location returns the reference timezone for time-of-day conditions.
func (r *Registry) Location() *time.Location {
	return r.location
}

// Compile parses raw into a typed Condition.
// Errors wrap ErrUnknownConditionType or ErrMalformedCondition.
func (r *Registry) Compile(t Type, raw string) (c Condition, err error) {
	r.mu.RLock()
	parse, ok := r.parsers[t]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConditionType, t)
	}

	defer func() {
		if rec := recover(); rec != nil {
			c = nil
			err = fmt.Errorf("%w: %s: parser panic: %v", ErrMalformedCondition, t, rec)
		}
	}()

	c, err = parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrMalformedCondition, t, raw, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s: parser returned no condition", ErrMalformedCondition, t)
	}
	return c, nil
}

// Evaluate compiles and matches a single condition in one step.
// It never panics and never reports a match for an unparseable condition.
func (r *Registry) Evaluate(t Type, raw string, attrs Attributes) Outcome {
	c, err := r.Compile(t, raw)
	if err != nil {
		return OutcomeOf(err)
	}
	matched, err := Match(c, attrs)
	if err != nil {
		return OutcomeMalformed
	}
	if matched {
		return OutcomeMatch
	}
	return OutcomeNoMatch
}

// Match runs c against attrs, converting a panicking matcher into an error.
func Match(c Condition, attrs Attributes) (matched bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			matched = false
			err = fmt.Errorf("%w: %s: matcher panic: %v", ErrMalformedCondition, c.Type(), rec)
		}
	}()
	return c.Match(attrs), nil
}
