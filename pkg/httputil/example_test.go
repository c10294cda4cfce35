package httputil_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/wonny/egp/pkg/httputil"
)

// Example_getJSON demonstrates calling the health endpoint
func Example_getJSON() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","service":"egp-api"}`)
	}))
	defer server.Close()

	client := httputil.New(server.URL, nil).DisableRetry()

	var health map[string]string
	if err := client.GetJSON(context.Background(), "/health", &health); err != nil {
		fmt.Printf("Request failed: %v\n", err)
		return
	}
	fmt.Println(health["service"], health["status"])
	// Output:
	// egp-api ok
}
