package twin

import (
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"
)

// Fault replaces the response of every request to a path.
type Fault struct {
	StatusCode int           `json:"status_code"`
	Body       string        `json:"body,omitempty"`
	Delay      time.Duration `json:"delay,omitempty"`
	// Remaining limits the fault to the next n requests; 0 means forever.
	Remaining int `json:"remaining,omitempty"`
}

// FaultRegistry holds injected faults keyed by request path.
type FaultRegistry struct {
	mu     sync.Mutex
	faults map[string]Fault
}

func NewFaultRegistry() *FaultRegistry {
	return &FaultRegistry{faults: make(map[string]Fault)}
}

// Set injects a fault for path.
func (fr *FaultRegistry) Set(path string, f Fault) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.faults[path] = f
}

// Remove removes the fault for path and reports whether one existed.
func (fr *FaultRegistry) Remove(path string) bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	_, ok := fr.faults[path]
	delete(fr.faults, path)
	return ok
}

// take returns the fault for path, consuming one use of a limited fault.
func (fr *FaultRegistry) take(path string) (Fault, bool) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	f, ok := fr.faults[path]
	if !ok {
		return Fault{}, false
	}
	if f.Remaining > 0 {
		f.Remaining--
		if f.Remaining == 0 {
			delete(fr.faults, path)
		} else {
			fr.faults[path] = f
		}
	}
	return f, true
}

// All returns every registered fault.
func (fr *FaultRegistry) All() map[string]Fault {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return maps.Clone(fr.faults)
}

// Reset clears all faults.
func (fr *FaultRegistry) Reset() {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.faults = make(map[string]Fault)
}

// middleware applies faults. It must run inside the API routes only so
// admin endpoints stay reachable.
func (fr *FaultRegistry) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := fr.take(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if f.Delay > 0 {
			select {
			case <-time.After(f.Delay):
			case <-r.Context().Done():
				return
			}
		}
		if f.StatusCode == 0 {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.StatusCode)
		if f.Body != "" {
			fmt.Fprint(w, f.Body)
		} else {
			fmt.Fprintf(w, `{"success":false,"message":"injected fault (%d)"}`, f.StatusCode)
		}
	})
}
