package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/v1/markers":                     "/v1/markers",
		"/v1/markers?status=approved":     "/v1/markers",
		"/v1/markers/01ABC":               "/v1/markers/:id",
		"/v1/markers/01ABC/history":       "/v1/markers/:id/history",
		"/v1/markers/01ABC/approve":       "/v1/markers/:id/approve",
		"/v1/markers/01ABC/extra/deep":    "/v1/markers/01ABC/extra/deep",
		"/v1/admin/actors/01ABC":          "/v1/admin/actors/:id",
		"/v1/moderation/pending":          "/v1/moderation/pending",
		"/v1/moderation/pending?limit=10": "/v1/moderation/pending",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
