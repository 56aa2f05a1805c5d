package llm

import "testing"

func testRouter() *Router {
	r := NewRouter(2)
	r.Add(Model{ID: 1, Name: "gpt-4o", Provider: "openai"})
	r.Add(Model{ID: 2, Name: "deepseek-chat", Provider: "openai"})
	r.Add(Model{ID: 3, Name: "claude-sonnet", Provider: "anthropic"})
	return r
}

func TestRouter_DefaultAndResolve(t *testing.T) {
	r := testRouter()

	if m, ok := r.Default(); !ok || m.ID != 2 {
		t.Fatalf("Default = %v, %v; want id 2", m, ok)
	}

	one, missing := 1, 42
	tests := []struct {
		name string
		id   *int
		want int
	}{
		{"nil uses default", nil, 2},
		{"known id", &one, 1},
		{"unknown id uses default", &missing, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := r.Resolve(tt.id)
			if !ok || m.ID != tt.want {
				t.Errorf("Resolve = %v, %v; want id %d", m, ok, tt.want)
			}
		})
	}
}

func TestRouter_DefaultFallsBackToLowestID(t *testing.T) {
	r := NewRouter(99)
	r.Add(Model{ID: 5, Name: "b"})
	r.Add(Model{ID: 3, Name: "a"})
	m, ok := r.Default()
	if !ok || m.ID != 3 {
		t.Errorf("Default = %v, %v; want id 3", m, ok)
	}

	if _, ok := NewRouter(0).Default(); ok {
		t.Error("empty router should have no default")
	}
}

func TestRouter_Lookup(t *testing.T) {
	r := testRouter()
	tests := []struct {
		query  string
		want   int
		wantOK bool
	}{
		{"3", 3, true},
		{"DeepSeek-Chat", 2, true},
		{"claude", 3, true},
		{"gpt", 1, true},
		{"9", 0, false},
		{"zzzz", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			m, ok := r.Lookup(tt.query)
			if ok != tt.wantOK {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.query, ok, tt.wantOK)
			}
			if ok && m.ID != tt.want {
				t.Errorf("Lookup(%q) = %d, want %d", tt.query, m.ID, tt.want)
			}
		})
	}
}

func TestRouter_ModelsOrdered(t *testing.T) {
	models := testRouter().Models()
	for i, m := range models {
		if m.ID != i+1 {
			t.Errorf("models[%d].ID = %d", i, m.ID)
		}
	}
}
