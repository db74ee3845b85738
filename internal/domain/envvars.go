package domain

// EnvironmentVariable is a single name/value pair. Secure variables are masked
// in logs and their values may be secret references resolved just before
// dispatch.
type EnvironmentVariable struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Secure bool   `json:"secure,omitempty"`
}

// EnvironmentVariableContext is the layered variable set handed to an agent
// with its work. Scopes are applied pipeline, stage, then job; setting a name
// again overrides the earlier scope while preserving first-set ordering.
type EnvironmentVariableContext struct {
	order []string
	vars  map[string]EnvironmentVariable
}

func NewEnvironmentVariableContext() *EnvironmentVariableContext {
	return &EnvironmentVariableContext{vars: make(map[string]EnvironmentVariable)}
}

// SetProperty sets or overrides a variable. Later calls win.
func (c *EnvironmentVariableContext) SetProperty(name, value string, secure bool) {
	if _, exists := c.vars[name]; !exists {
		c.order = append(c.order, name)
	}
	c.vars[name] = EnvironmentVariable{Name: name, Value: value, Secure: secure}
}

// Property returns the current value for name.
func (c *EnvironmentVariableContext) Property(name string) (EnvironmentVariable, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Properties returns all variables in first-set order.
func (c *EnvironmentVariableContext) Properties() []EnvironmentVariable {
	out := make([]EnvironmentVariable, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.vars[name])
	}
	return out
}

// Len returns the number of distinct variables.
func (c *EnvironmentVariableContext) Len() int {
	return len(c.vars)
}
