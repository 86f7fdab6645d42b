package harness

// ContextTrace is what one context did during a scenario.
type ContextTrace struct {
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Status    string   `json:"status"`
	Reason    string   `json:"reason,omitempty"`
	Loaded    int      `json:"loaded"`
	Total     int      `json:"total"`
	Connected bool     `json:"connected,omitempty"`
	Fatal     string   `json:"fatal,omitempty"`
	Steps     []string `json:"steps"`
	Log       []string `json:"log"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass     bool           `json:"pass"`
	Contexts []ContextTrace `json:"contexts"`
	// Fetches counts network calls per locator named in resources,
	// failures or a fetch_count assertion.
	Fetches map[string]int `json:"fetches"`
	Errors  []string       `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Contexts: []ContextTrace{},
		Fetches:  make(map[string]int),
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Context returns the trace of the named context.
func (r *Result) Context(name string) (ContextTrace, bool) {
	for _, c := range r.Contexts {
		if c.Name == name {
			return c, true
		}
	}
	return ContextTrace{}, false
}
