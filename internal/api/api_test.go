package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashfell/inkwell/internal/api"
	"github.com/ashfell/inkwell/internal/blobstore"
	"github.com/ashfell/inkwell/internal/docservice"
	"github.com/ashfell/inkwell/internal/notify"
	"github.com/ashfell/inkwell/internal/richtext"
	"github.com/ashfell/inkwell/internal/scheduler"
	"github.com/ashfell/inkwell/internal/testutil"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	records := testutil.TestDocStore(t)
	blobs := testutil.TestBlobStore(t)
	logger := testutil.Logger()
	saver := blobstore.NewSaver(blobs, 4, logger)
	notifier := notify.New(time.Hour)
	t.Cleanup(notifier.Close)

	svc := docservice.New(records, blobs, saver, notifier, scheduler.Config{Debounce: 20 * time.Millisecond}, logger)
	t.Cleanup(svc.Shutdown)
	return api.NewRouter(svc, false, "", nil)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createDocument(t *testing.T, router http.Handler, title, text string) api.DocumentDetail {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/documents", api.CreateDocumentRequest{
		Title: title,
		Model: richtext.FromPlainText(text),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body)
	}
	var detail api.DocumentDetail
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	return detail
}

func TestDocumentLifecycle(t *testing.T) {
	router := testRouter(t)

	created := createDocument(t, router, "Trip", "pack bags")
	if created.Title != "Trip" || created.Hash == "" {
		t.Errorf("created = %+v", created)
	}

	w := doJSON(t, router, http.MethodGet, "/documents/"+created.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", w.Code, w.Body)
	}
	var got api.DocumentDetail
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Model.PlainText() != "pack bags" {
		t.Errorf("plain text = %q", got.Model.PlainText())
	}

	w = doJSON(t, router, http.MethodPut, "/documents/"+created.ID.String(), api.UpdateDocumentRequest{
		Title: "Trip v2",
		Model: richtext.FromPlainText("pack bags and passport"),
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("update status = %d: %s", w.Code, w.Body)
	}

	w = doJSON(t, router, http.MethodPost, "/documents/"+created.ID.String()+"/flush", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("flush status = %d: %s", w.Code, w.Body)
	}

	w = doJSON(t, router, http.MethodGet, "/documents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list api.DocumentListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 1 || list.Documents[0].Title != "Trip v2" {
		t.Errorf("list = %+v", list)
	}
	if list.Documents[0].Preview != "pack bags and passport" {
		t.Errorf("preview = %q", list.Documents[0].Preview)
	}

	w = doJSON(t, router, http.MethodDelete, "/documents/"+created.ID.String(), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/documents/"+created.ID.String(), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", w.Code)
	}
}

func TestGetDocumentBadID(t *testing.T) {
	router := testRouter(t)
	w := doJSON(t, router, http.MethodGet, "/documents/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCheckboxRoute(t *testing.T) {
	router := testRouter(t)
	created := createDocument(t, router, "Todo", "")

	// No such checkbox in an empty document.
	w := doJSON(t, router, http.MethodPut,
		fmt.Sprintf("/documents/%s/checkboxes/%s", created.ID, "11111111-2222-3333-4444-555555555555"),
		api.CheckboxRequest{Checked: true})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func uploadAttachment(t *testing.T, router http.Handler, docID, filename, mime string, payload []byte) api.AttachmentUploadResponse {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)}
	hdr["Content-Type"] = []string{mime}
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = mw.WriteField("w", "120")
	_ = mw.WriteField("h", "80")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/documents/"+docID+"/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", w.Code, w.Body)
	}
	var resp api.AttachmentUploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return resp
}

func TestAttachmentUploadDownloadRemove(t *testing.T) {
	router := testRouter(t)
	created := createDocument(t, router, "Pics", "see:")

	payload := []byte("fake png bytes")
	up := uploadAttachment(t, router, created.ID.String(), "cat.png", "image/png", payload)
	if up.Kind != "image" {
		t.Errorf("kind = %q, want image (inferred from content type)", up.Kind)
	}
	if up.Size != int64(len(payload)) {
		t.Errorf("size = %d", up.Size)
	}

	// The durable write is asynchronous; poll the download endpoint.
	var w *httptest.ResponseRecorder
	deadline := time.Now().Add(2 * time.Second)
	for {
		w = doJSON(t, router, http.MethodGet,
			fmt.Sprintf("/documents/%s/attachments/%s", created.ID, up.ID), nil)
		if w.Code == http.StatusOK || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("download status = %d: %s", w.Code, w.Body)
	}
	if got := w.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("content type = %q", got)
	}
	if !bytes.Equal(w.Body.Bytes(), payload) {
		t.Errorf("payload = %q", w.Body.Bytes())
	}

	w = doJSON(t, router, http.MethodDelete,
		fmt.Sprintf("/documents/%s/attachments/%s", created.ID, up.ID), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("remove status = %d: %s", w.Code, w.Body)
	}

	w = doJSON(t, router, http.MethodPost, "/documents/"+created.ID.String()+"/flush", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("flush status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/documents/%s/attachments/%s", created.ID, up.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("download after remove+flush = %d", w.Code)
	}
}

func TestGifUploadInfersAnimatedImage(t *testing.T) {
	router := testRouter(t)
	created := createDocument(t, router, "Gifs", "")

	up := uploadAttachment(t, router, created.ID.String(), "loop.gif", "image/gif", []byte("gif"))
	if up.Kind != "animated_image" {
		t.Errorf("kind = %q, want animated_image", up.Kind)
	}
}

func TestAuthMiddleware(t *testing.T) {
	records := testutil.TestDocStore(t)
	blobs := testutil.TestBlobStore(t)
	logger := testutil.Logger()
	saver := blobstore.NewSaver(blobs, 4, logger)
	notifier := notify.New(time.Hour)
	t.Cleanup(notifier.Close)
	svc := docservice.New(records, blobs, saver, notifier, scheduler.Config{}, logger)
	t.Cleanup(svc.Shutdown)

	router := api.NewRouter(svc, true, "sekrit", nil)

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("good token: status = %d, want 200", w.Code)
	}
}
