package xapi

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestParseStatementsPage(t *testing.T) {
	body := `{
		"statements": [
			{
				"id": "s1",
				"actor": {"mbox": "mailto:l@x.com", "name": "l"},
				"verb": {"id": "http://adlnet.gov/expapi/verbs/completed"},
				"object": {"id": "http://example.com/activity", "objectType": "Activity"},
				"result": {"score": {"scaled": 0.8}, "success": true},
				"timestamp": "2026-08-30T10:00:00Z"
			},
			{
				"id": "s2",
				"actor": {"objectType": "Group", "member": [{"mbox": "mailto:a@x.com"}]},
				"verb": {"id": "http://adlnet.gov/expapi/verbs/attempted"},
				"object": {"id": "s1", "objectType": "StatementRef"}
			}
		],
		"more": "/xapi/statements?page=2"
	}`

	statements, more := ParseStatementsPage(body)
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(statements))
	}
	if more != "/xapi/statements?page=2" {
		t.Fatalf("unexpected more link: %q", more)
	}

	first := statements[0]
	if first.Actor.Kind != ActorAgent {
		t.Fatal("expected first actor to be an agent")
	}
	if got := first.Actor.Agent.Key(); got != "mailto:l@x.com" {
		t.Fatalf("unexpected actor key: %q", got)
	}
	if first.Object.Kind != ObjectActivity || first.Object.ID != "http://example.com/activity" {
		t.Fatalf("unexpected object: %+v", first.Object)
	}
	if scaled, ok := first.ScaledScore(); !ok || scaled != 0.8 {
		t.Fatalf("expected scaled 0.8, got %v %v", scaled, ok)
	}
	if first.Timestamp.IsZero() {
		t.Fatal("expected parsed timestamp")
	}

	second := statements[1]
	if second.Actor.Kind != ActorGroup || len(second.Actor.Members) != 1 {
		t.Fatalf("unexpected group actor: %+v", second.Actor)
	}
	if second.Object.Kind != ObjectStatementRef {
		t.Fatalf("expected statement ref object, got %+v", second.Object)
	}
	if _, ok := second.ScaledScore(); ok {
		t.Fatal("expected no score on second statement")
	}
}

func TestParseObjectDefaultsToActivity(t *testing.T) {
	obj := parseObject(gjson.Parse(`{"id": "http://example.com/a"}`))
	if obj.Kind != ObjectActivity {
		t.Fatal("object without objectType should be an Activity")
	}
}

func TestParseSubStatementKeepsRaw(t *testing.T) {
	raw := `{"objectType": "SubStatement", "actor": {"mbox": "mailto:x@x.com"}}`
	obj := parseObject(gjson.Parse(raw))
	if obj.Kind != ObjectSubStatement {
		t.Fatal("expected sub-statement")
	}
	if obj.Raw != raw {
		t.Fatalf("expected raw JSON preserved, got %q", obj.Raw)
	}
}

func TestAgentKeyAccount(t *testing.T) {
	agent := Agent{Account: &Account{HomePage: "http://site", Name: "bob"}}
	if got := agent.Key(); got != "http://site|bob" {
		t.Fatalf("unexpected account key: %q", got)
	}
	if got := (Agent{}).Key(); got != "" {
		t.Fatalf("empty agent should have empty key, got %q", got)
	}
}

func TestAgentMarshalIncludesObjectType(t *testing.T) {
	data, err := json.Marshal(Agent{Mbox: "mailto:l@x.com"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"objectType":"Agent"`) {
		t.Fatalf("marshaled agent missing objectType: %s", data)
	}
	if strings.Contains(string(data), "account") {
		t.Fatalf("empty account should be omitted: %s", data)
	}
}

func TestOutboundStatementMarshal(t *testing.T) {
	statement := OutboundStatement{
		Actor:  Agent{Mbox: "mailto:l@x.com"},
		Verb:   Verb{ID: "http://adlnet.gov/expapi/verbs/launched"},
		Object: Object{Kind: ObjectActivity, ID: "http://example.com/a"},
		Context: &Context{
			Registration: "reg-1",
			ContextActivities: &ContextActivities{
				Parent: []Object{{Kind: ObjectActivity, ID: "http://site/courses/1"}},
			},
		},
	}
	data, err := json.Marshal(statement)
	if err != nil {
		t.Fatal(err)
	}
	parsed := gjson.ParseBytes(data)
	if parsed.Get("object.objectType").String() != "Activity" {
		t.Fatalf("unexpected object marshal: %s", data)
	}
	if parsed.Get("context.registration").String() != "reg-1" {
		t.Fatalf("missing registration: %s", data)
	}
	if parsed.Get("context.contextActivities.parent.0.id").String() != "http://site/courses/1" {
		t.Fatalf("missing context parent: %s", data)
	}
}
