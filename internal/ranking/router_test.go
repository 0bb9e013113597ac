package ranking

import "testing"

func TestRoute(t *testing.T) {
	t.Run("path-like query", func(t *testing.T) {
		r := Route("src/main.go", []string{"src", "main.go"})
		if r.QueryClass != QueryClassPathOrCode {
			t.Fatalf("QueryClass = %v, want PathOrCode", r.QueryClass)
		}
		if r.RouterConfidence != 0.88 {
			t.Fatalf("RouterConfidence = %v, want 0.88", r.RouterConfidence)
		}
	})

	t.Run("natural language query", func(t *testing.T) {
		r := Route("budget report from last quarter", []string{"budget", "report", "quarter"})
		if r.QueryClass != QueryClassNaturalLanguage {
			t.Fatalf("QueryClass = %v, want NaturalLanguage", r.QueryClass)
		}
		if r.QueryDomain != QueryDomainFinance {
			t.Fatalf("QueryDomain = %v, want Finance", r.QueryDomain)
		}
	})

	t.Run("short ambiguous query", func(t *testing.T) {
		r := Route("foo", nil)
		if r.QueryClass != QueryClassShortAmbiguous {
			t.Fatalf("QueryClass = %v, want ShortAmbiguous", r.QueryClass)
		}
		if r.RouterConfidence != 0.45 {
			t.Fatalf("RouterConfidence = %v, want 0.45", r.RouterConfidence)
		}
	})

	t.Run("empty query is invalid", func(t *testing.T) {
		r := Route("   ", nil)
		if r.Valid {
			t.Fatal("expected Valid=false for empty query")
		}
	})
}
