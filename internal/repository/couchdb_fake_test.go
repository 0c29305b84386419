package repository

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"
)

const testDBName = "vidtube_test"

// fakeCouch is an in-memory stand-in for the subset of the CouchDB HTTP API
// the repositories use: document CRUD with revisions, _find with equality and
// $or selectors, and database/index creation.
type fakeCouch struct {
	mu           sync.Mutex
	docs         map[string]map[string]interface{}
	revs         int
	dbs          map[string]bool
	failOn       string
	failDeleteOn string

	// onPut runs once, under the lock, before the next document write.
	onPut func(docs map[string]map[string]interface{})
}

func newFakeCouch(t *testing.T) (*kivik.Client, *fakeCouch) {
	t.Helper()

	fc := &fakeCouch{
		docs: make(map[string]map[string]interface{}),
		dbs:  map[string]bool{testDBName: true},
	}
	srv := httptest.NewServer(fc)
	t.Cleanup(srv.Close)

	client, err := kivik.New("couch", srv.URL)
	if err != nil {
		t.Fatalf("kivik.New() error = %v", err)
	}
	return client, fc
}

func (fc *fakeCouch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "reason": err.Error()})
			return
		}
		defer zr.Close()
		r.Body = zr
	}

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	db := parts[0]

	if len(parts) == 1 || parts[1] == "" {
		fc.serveDB(w, r, db)
		return
	}

	switch docID := parts[1]; {
	case docID == "_find" && r.Method == http.MethodPost:
		fc.find(w, r)
	case docID == "_index" && r.Method == http.MethodPost:
		writeJSON(w, http.StatusOK, map[string]string{"result": "created"})
	case r.Method == http.MethodGet:
		fc.get(w, docID)
	case r.Method == http.MethodPut:
		fc.put(w, r, docID)
	case r.Method == http.MethodDelete:
		fc.delete(w, r, docID)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
	}
}

func (fc *fakeCouch) serveDB(w http.ResponseWriter, r *http.Request, db string) {
	switch r.Method {
	case http.MethodHead:
		if fc.dbs[db] {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case http.MethodPut:
		fc.dbs[db] = true
		writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"db_name": db})
	}
}

func (fc *fakeCouch) get(w http.ResponseWriter, docID string) {
	doc, ok := fc.docs[docID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": "missing"})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (fc *fakeCouch) put(w http.ResponseWriter, r *http.Request, docID string) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "reason": err.Error()})
		return
	}

	if fc.failOn != "" && strings.HasPrefix(docID, fc.failOn) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unknown_error", "reason": "injected"})
		return
	}

	if hook := fc.onPut; hook != nil {
		fc.onPut = nil
		hook(fc.docs)
	}

	sentRev, _ := body["_rev"].(string)
	existing, exists := fc.docs[docID]
	if exists && existing["_rev"] != sentRev || !exists && sentRev != "" {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict", "reason": "Document update conflict."})
		return
	}

	fc.revs++
	rev := fmt.Sprintf("%d-fake", fc.revs)
	body["_id"] = docID
	body["_rev"] = rev
	fc.docs[docID] = body

	writeJSON(w, http.StatusCreated, map[string]interface{}{"ok": true, "id": docID, "rev": rev})
}

func (fc *fakeCouch) delete(w http.ResponseWriter, r *http.Request, docID string) {
	if fc.failDeleteOn != "" && strings.HasPrefix(docID, fc.failDeleteOn) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unknown_error", "reason": "injected"})
		return
	}

	existing, ok := fc.docs[docID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": "deleted"})
		return
	}
	if existing["_rev"] != r.URL.Query().Get("rev") {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict", "reason": "Document update conflict."})
		return
	}

	delete(fc.docs, docID)
	fc.revs++
	rev := fmt.Sprintf("%d-fake", fc.revs)
	w.Header().Set("ETag", `"`+rev+`"`)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "id": docID, "rev": rev})
}

func (fc *fakeCouch) find(w http.ResponseWriter, r *http.Request) {
	var query struct {
		Selector map[string]interface{} `json:"selector"`
		Limit    int                    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "reason": err.Error()})
		return
	}

	docs := []map[string]interface{}{}
	for _, doc := range fc.docs {
		if query.Limit > 0 && len(docs) >= query.Limit {
			break
		}
		if matches(doc, query.Selector) {
			docs = append(docs, doc)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"docs": docs})
}

func matches(doc, selector map[string]interface{}) bool {
	for key, want := range selector {
		if key == "$or" {
			alternatives, _ := want.([]interface{})
			any := false
			for _, alt := range alternatives {
				if sub, ok := alt.(map[string]interface{}); ok && matches(doc, sub) {
					any = true
					break
				}
			}
			if !any {
				return false
			}
			continue
		}
		if fmt.Sprint(doc[key]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// concurrentWrite returns an onPut hook that changes field on docID and
// bumps its revision, as if another writer got there first.
func (fc *fakeCouch) concurrentWrite(docID, field string, value interface{}) func(map[string]map[string]interface{}) {
	return func(docs map[string]map[string]interface{}) {
		fc.revs++
		docs[docID][field] = value
		docs[docID]["_rev"] = fmt.Sprintf("%d-fake", fc.revs)
	}
}

func (fc *fakeCouch) has(docID string) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	_, ok := fc.docs[docID]
	return ok
}

func (fc *fakeCouch) field(docID, field string) interface{} {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.docs[docID][field]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
