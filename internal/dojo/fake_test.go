package dojo

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const testToken = "tok-123"

type upload struct {
	Fields   map[string]string
	FileName string
	Content  string
}

// fakeDojo is an in-memory DefectDojo API v2 with just enough behaviour for
// the importer: token auth, paginated product/engagement lists with name
// filters, creation and multipart import.
type fakeDojo struct {
	mu sync.Mutex

	srv      *httptest.Server
	pageSize int
	// nextBase overrides the scheme and host of pagination links.
	nextBase string

	products    []Product
	engagements []Engagement
	nextID      int

	// frozen keeps created records out of later list responses.
	frozen bool
	// rejectCreate makes every create fail as a unique-name violation would.
	rejectCreate bool
	authFail     bool
	failUploads  map[string]int

	requests          []string
	productCreates    int
	engagementCreates int
	uploads           []upload
}

func newFakeDojo(t *testing.T) *fakeDojo {
	f := &fakeDojo{pageSize: 25, nextID: 100, failUploads: map[string]int{}}
	f.srv = httptest.NewServer(f)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDojo) URL() string { return f.srv.URL }

func (f *fakeDojo) catalogRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if strings.Contains(r, "/products/") || strings.Contains(r, "/engagements/") {
			n++
		}
	}
	return n
}

func (f *fakeDojo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	path := strings.TrimPrefix(r.URL.Path, "/api/v2")
	if path == "/api-token-auth/" {
		f.serveAuth(w, r)
		return
	}
	if r.Header.Get("Authorization") != "Token "+testToken {
		http.Error(w, `{"detail":"Authentication credentials were not provided."}`, http.StatusUnauthorized)
		return
	}

	switch {
	case path == "/products/" && r.Method == http.MethodGet:
		name := r.URL.Query().Get("name")
		var matched []Product
		for _, p := range f.products {
			if name == "" || strings.EqualFold(p.Name, name) {
				matched = append(matched, p)
			}
		}
		writePage(w, r, f.nextBase, f.pageSize, matched)
	case path == "/products/" && r.Method == http.MethodPost:
		var p Product
		json.NewDecoder(r.Body).Decode(&p)
		f.productCreates++
		if f.rejectCreate {
			http.Error(w, `{"name":["product with this name already exists."]}`, http.StatusBadRequest)
			return
		}
		f.nextID++
		p.ID = f.nextID
		if !f.frozen {
			f.products = append(f.products, p)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(p)
	case path == "/engagements/" && r.Method == http.MethodGet:
		productID, _ := strconv.Atoi(r.URL.Query().Get("product"))
		name := r.URL.Query().Get("name")
		var matched []Engagement
		for _, e := range f.engagements {
			if e.ProductID == productID && (name == "" || e.Name == name) {
				matched = append(matched, e)
			}
		}
		writePage(w, r, f.nextBase, f.pageSize, matched)
	case path == "/engagements/" && r.Method == http.MethodPost:
		var e Engagement
		json.NewDecoder(r.Body).Decode(&e)
		f.engagementCreates++
		if f.rejectCreate {
			http.Error(w, `{"non_field_errors":["duplicate"]}`, http.StatusBadRequest)
			return
		}
		f.nextID++
		e.ID = f.nextID
		if !f.frozen {
			f.engagements = append(f.engagements, e)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(e)
	case path == "/import-scan/" && r.Method == http.MethodPost:
		f.serveImport(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeDojo) serveAuth(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	json.NewDecoder(r.Body).Decode(&req)
	if f.authFail || req.Username != "admin" || req.Password != "secret" {
		http.Error(w, `{"non_field_errors":["Unable to log in with provided credentials."]}`, http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(tokenResponse{Token: testToken})
}

func (f *fakeDojo) serveImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, `{"file":["required"]}`, http.StatusBadRequest)
		return
	}
	defer file.Close()
	content, _ := io.ReadAll(file)

	if code := f.failUploads[header.Filename]; code != 0 {
		http.Error(w, `{"detail":"parser error"}`, code)
		return
	}

	fields := map[string]string{}
	for k, v := range r.MultipartForm.Value {
		fields[k] = v[0]
	}
	f.uploads = append(f.uploads, upload{Fields: fields, FileName: header.Filename, Content: string(content)})

	f.nextID++
	engagementID, _ := strconv.Atoi(fields["engagement"])
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"scan_type":%q,"test":%d,"engagement_id":%d}`, fields["scan_type"], f.nextID, engagementID)
}

func writePage[T any](w http.ResponseWriter, r *http.Request, base string, size int, items []T) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	end := offset + size
	if end > len(items) {
		end = len(items)
	}
	if offset > end {
		offset = end
	}

	p := page[T]{Count: len(items), Results: items[offset:end]}
	if end < len(items) {
		q := r.URL.Query()
		q.Set("offset", strconv.Itoa(end))
		if base == "" {
			base = "http://" + r.Host
		}
		p.Next = base + r.URL.Path + "?" + q.Encode()
	}
	if p.Results == nil {
		p.Results = []T{}
	}
	json.NewEncoder(w).Encode(p)
}
