package mailing

import (
	"testing"
)

func TestTemplateService_Filters(t *testing.T) {
	ts := NewTemplateService()
	tests := []struct {
		name string
		src  string
		vars map[string]interface{}
		want string
	}{
		{"default on empty", `Bonjour {{ first_name | default: "à tous" }}`, map[string]interface{}{"first_name": ""}, "Bonjour à tous"},
		{"default on missing", `Bonjour {{ first_name | default: "à tous" }}`, nil, "Bonjour à tous"},
		{"default keeps value", `Bonjour {{ first_name | default: "à tous" }}`, map[string]interface{}{"first_name": "Lou"}, "Bonjour Lou"},
		{"truncate", `{{ s | truncate_words: 2 }}`, map[string]interface{}{"s": "un deux trois"}, "un deux…"},
		{"truncate short", `{{ s | truncate_words: 5 }}`, map[string]interface{}{"s": "un deux"}, "un deux"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ts.Render("", tt.src, tt.vars)
			if err != nil {
				t.Fatalf("Render() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTemplateService_CacheKey(t *testing.T) {
	ts := NewTemplateService()
	if _, err := ts.Render("k", "v1 {{ x }}", map[string]interface{}{"x": 1}); err != nil {
		t.Fatal(err)
	}
	// Same key, different source: the cached template wins.
	got, err := ts.Render("k", "v2 {{ x }}", map[string]interface{}{"x": 2})
	if err != nil {
		t.Fatal(err)
	}
	if got != "v1 2" {
		t.Errorf("Render() = %q, want cached template output %q", got, "v1 2")
	}
}

func TestTemplateService_Validate(t *testing.T) {
	ts := NewTemplateService()
	if err := ts.Validate(`<p>{% if first_name %}Bonjour {{ first_name }}{% endif %}</p>`); err != nil {
		t.Errorf("Validate() valid template: %v", err)
	}
	if err := ts.Validate(`<p>{% if first_name %}Bonjour</p>`); err == nil {
		t.Error("Validate() should reject an unclosed tag")
	}
}
