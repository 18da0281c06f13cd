package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConversationCmd_Subcommands(t *testing.T) {
	found := false
	for _, cmd := range conversationCmd.Commands() {
		if cmd.Name() == "list" {
			found = true
			break
		}
	}
	if !found {
		t.Error("conversation list subcommand not registered")
	}
}

func TestRunConversationList_RequiresProject(t *testing.T) {
	oldProject := conversationProject
	defer func() { conversationProject = oldProject }()
	conversationProject = ""

	err := runConversationList(conversationListCmd, nil)
	if err == nil {
		t.Fatal("expected error without --project")
	}
	if !strings.Contains(err.Error(), "--project") {
		t.Errorf("error %q should name the missing flag", err)
	}
}

func TestRunConversationList(t *testing.T) {
	var gotProject string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotProject = r.URL.Query().Get("project_id")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"c1","project_id":"p1","title":"refactor planning","created_at":"2025-01-01 00:00:00","updated_at":"2025-01-03 12:00:00"},
			{"id":"c2","project_id":"p1","title":"bug triage","created_at":"2025-01-02 00:00:00","updated_at":"2025-01-02 08:30:00"}
		]`))
	}))
	defer srv.Close()

	oldServer, oldProject := serverURL, conversationProject
	defer func() { serverURL, conversationProject = oldServer, oldProject }()
	serverURL = srv.URL
	conversationProject = "p1"

	var out bytes.Buffer
	conversationListCmd.SetOut(&out)
	defer conversationListCmd.SetOut(nil)

	if err := runConversationList(conversationListCmd, nil); err != nil {
		t.Fatalf("runConversationList: %v", err)
	}

	if gotProject != "p1" {
		t.Errorf("project_id query = %q, want p1", gotProject)
	}
	output := out.String()
	for _, want := range []string{"TITLE", "c1", "refactor planning", "c2", "bug triage"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q, got:\n%s", want, output)
		}
	}
}
