package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

// ── Template Engine Tests ──

func TestTemplateEngine_RegisterAndRender(t *testing.T) {
	eng := NewTemplateEngine()
	eng.RegisterTemplate(Template{
		ID:      "test-tpl",
		Name:    "Test Template",
		Subject: "Hello {{name}}",
		Body:    "Dear {{name}}, your code is {{code}}.",
		Channel: ChannelEmail,
	})

	subject, body, err := eng.Render("test-tpl", map[string]string{
		"name": "Alice",
		"code": "1234",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Hello Alice" {
		t.Errorf("subject = %q, want %q", subject, "Hello Alice")
	}
	if body != "Dear Alice, your code is 1234." {
		t.Errorf("body = %q, want %q", body, "Dear Alice, your code is 1234.")
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	eng := NewTemplateEngine()
	_, _, err := eng.Render("nonexistent", nil)
	if err == nil {
		t.Fatal("expected error for missing template, got nil")
	}
}

func TestTemplateEngine_BuiltInTemplates(t *testing.T) {
	eng := NewTemplateEngine()
	builtIn := []string{
		TemplateCriticalValueAlert,
		TemplatePhysicianEscalation,
		TemplateAnalysisReady,
	}
	for _, id := range builtIn {
		subject, body, err := eng.Render(id, map[string]string{
			"patient_name": "Jane Doe",
			"issue":        "DO NOT PRESCRIBE: allergy to Penicillin",
			"request_id":   "req-1",
			"notes":        "needs cardiology input",
		})
		if err != nil {
			t.Errorf("built-in template %q not found: %v", id, err)
			continue
		}
		if subject == "" || body == "" {
			t.Errorf("template %q rendered empty output", id)
		}
	}
}

func TestTemplateEngine_UnmatchedPlaceholderLeftAsIs(t *testing.T) {
	eng := NewTemplateEngine()
	_, body, err := eng.Render(TemplateAnalysisReady, map[string]string{
		"request_id": "req-9",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(body, "{{patient_name}}") {
		t.Errorf("expected unmatched placeholder to remain, got %q", body)
	}
	if !strings.Contains(body, "req-9") {
		t.Errorf("expected request_id substitution, got %q", body)
	}
}

// ── Dispatcher Tests ──

func newTestDispatcher() (*Dispatcher, *MockEmailSender, *MockSMSSender) {
	email := &MockEmailSender{}
	sms := &MockSMSSender{}
	return NewDispatcher(email, sms, NewTemplateEngine()), email, sms
}

func TestDispatcher_SendEmail(t *testing.T) {
	d, email, _ := newTestDispatcher()

	n := &Notification{
		Channel:   ChannelEmail,
		Recipient: "pharmacist@clinic.example",
		Subject:   "test subject",
		Body:      "test body",
	}
	if err := d.Send(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n.ID == "" {
		t.Error("expected notification ID to be assigned")
	}
	if n.Status != "sent" {
		t.Errorf("expected status sent, got %s", n.Status)
	}
	if n.SentAt == nil {
		t.Error("expected SentAt to be set")
	}

	calls := email.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 email call, got %d", len(calls))
	}
	if calls[0].To != "pharmacist@clinic.example" {
		t.Errorf("unexpected recipient: %s", calls[0].To)
	}
}

func TestDispatcher_SendSMS(t *testing.T) {
	d, _, sms := newTestDispatcher()

	n := &Notification{
		Channel:   ChannelSMS,
		Recipient: "+15550001111",
		Body:      "critical alert",
	}
	if err := d.Send(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := sms.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 SMS call, got %d", len(calls))
	}
	if calls[0].Body != "critical alert" {
		t.Errorf("unexpected body: %s", calls[0].Body)
	}
}

func TestDispatcher_SendFailure(t *testing.T) {
	d, email, _ := newTestDispatcher()
	email.ShouldFail = true
	email.FailError = "smtp unavailable"

	n := &Notification{
		Channel:   ChannelEmail,
		Recipient: "pharmacist@clinic.example",
		Body:      "body",
	}
	err := d.Send(context.Background(), n)
	if err == nil {
		t.Fatal("expected send error")
	}
	if n.Status != "failed" {
		t.Errorf("expected status failed, got %s", n.Status)
	}
	if n.Error != "smtp unavailable" {
		t.Errorf("expected error recorded, got %q", n.Error)
	}
}

func TestDispatcher_SendUnsupportedChannel(t *testing.T) {
	d, _, _ := newTestDispatcher()

	n := &Notification{Channel: "carrier-pigeon", Recipient: "x", Body: "y"}
	if err := d.Send(context.Background(), n); err == nil {
		t.Fatal("expected error for unsupported channel")
	}
}

func TestDispatcher_SendFromTemplate(t *testing.T) {
	d, email, _ := newTestDispatcher()

	n, err := d.SendFromTemplate(context.Background(), TemplateCriticalValueAlert, map[string]string{
		"patient_name": "Jane Doe",
		"issue":        "DO NOT PRESCRIBE: allergy to Penicillin",
		"request_id":   "req-1",
	}, "oncall@clinic.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n.TemplateID != TemplateCriticalValueAlert {
		t.Errorf("expected template ID recorded, got %s", n.TemplateID)
	}
	calls := email.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 email call, got %d", len(calls))
	}
	if !strings.Contains(calls[0].Subject, "Jane Doe") {
		t.Errorf("expected patient name in subject, got %q", calls[0].Subject)
	}
	if !strings.Contains(calls[0].Body, "DO NOT PRESCRIBE") {
		t.Errorf("expected issue in body, got %q", calls[0].Body)
	}
}

func TestDispatcher_SendFromTemplate_Missing(t *testing.T) {
	d, _, _ := newTestDispatcher()
	_, err := d.SendFromTemplate(context.Background(), "nope", nil, "x@y.z")
	if err == nil {
		t.Fatal("expected error for missing template")
	}
}

func TestDispatcher_GetAndList(t *testing.T) {
	d, _, _ := newTestDispatcher()

	n := &Notification{Channel: ChannelEmail, Recipient: "a@b.c", Body: "hi"}
	if err := d.Send(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := d.Get(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != n.ID {
		t.Errorf("expected %s, got %s", n.ID, got.ID)
	}

	list, err := d.ListByRecipient(context.Background(), "a@b.c", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 notification, got %d", len(list))
	}

	if _, err := d.Get(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown notification ID")
	}
}

func TestDispatcher_Retry(t *testing.T) {
	d, email, _ := newTestDispatcher()
	email.ShouldFail = true
	email.FailError = "smtp unavailable"

	n := &Notification{Channel: ChannelEmail, Recipient: "a@b.c", Body: "hi"}
	if err := d.Send(context.Background(), n); err == nil {
		t.Fatal("expected initial send to fail")
	}

	email.ShouldFail = false
	if err := d.Retry(context.Background(), n.ID); err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}

	got, _ := d.Get(context.Background(), n.ID)
	if got.Status != "sent" {
		t.Errorf("expected status sent after retry, got %s", got.Status)
	}
	if got.Error != "" {
		t.Errorf("expected error cleared after retry, got %q", got.Error)
	}
}

func TestDispatcher_RetryNotFailed(t *testing.T) {
	d, _, _ := newTestDispatcher()

	n := &Notification{Channel: ChannelEmail, Recipient: "a@b.c", Body: "hi"}
	if err := d.Send(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.Retry(context.Background(), n.ID); err == nil {
		t.Error("expected error retrying a sent notification")
	}
}

func TestDispatcher_Stats(t *testing.T) {
	d, email, _ := newTestDispatcher()

	d.Send(context.Background(), &Notification{Channel: ChannelEmail, Recipient: "a@b.c", Body: "1"})
	d.Send(context.Background(), &Notification{Channel: ChannelEmail, Recipient: "a@b.c", Body: "2"})

	email.ShouldFail = true
	email.FailError = "down"
	d.Send(context.Background(), &Notification{Channel: ChannelEmail, Recipient: "a@b.c", Body: "3"})

	stats := d.Stats(context.Background())
	if stats["sent"] != 2 {
		t.Errorf("expected 2 sent, got %d", stats["sent"])
	}
	if stats["failed"] != 1 {
		t.Errorf("expected 1 failed, got %d", stats["failed"])
	}
}

// ── Handler Tests ──

func newTestHandler() (*Handler, *MockEmailSender) {
	email := &MockEmailSender{}
	d := NewDispatcher(email, &MockSMSSender{}, NewTemplateEngine())
	return NewHandler(d), email
}

func TestHandler_Send(t *testing.T) {
	h, email := newTestHandler()
	e := echo.New()

	payload := `{"channel":"email","recipient":"a@b.c","subject":"s","body":"b"}`
	req := httptest.NewRequest(http.MethodPost, "/notifications/send", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleSend(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var n Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &n); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if n.Status != "sent" {
		t.Errorf("expected status sent, got %s", n.Status)
	}
	if len(email.Calls()) != 1 {
		t.Errorf("expected 1 email call, got %d", len(email.Calls()))
	}
}

func TestHandler_GetNotFound(t *testing.T) {
	h, _ := newTestHandler()
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/notifications/missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")

	if err := h.HandleGet(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_ListRequiresRecipient(t *testing.T) {
	h, _ := newTestHandler()
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleList(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_SendTemplate(t *testing.T) {
	h, email := newTestHandler()
	e := echo.New()

	payload := `{"template_id":"analysis-ready","recipient":"rx@clinic.example","data":{"request_id":"req-1","patient_name":"Jane"}}`
	req := httptest.NewRequest(http.MethodPost, "/notifications/send-template", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleSendTemplate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if len(email.Calls()) != 1 {
		t.Errorf("expected 1 email call, got %d", len(email.Calls()))
	}
}
