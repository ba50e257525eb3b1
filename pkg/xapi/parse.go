package xapi

import (
	"time"

	"github.com/tidwall/gjson"
)

// ParseStatementsPage parses one statements query response, returning the
// statements in server order plus the "more" continuation link (empty when
// the page is the last one).
func ParseStatementsPage(body string) ([]Statement, string) {
	var statements []Statement
	for _, raw := range gjson.Get(body, "statements").Array() {
		statements = append(statements, ParseStatement(raw))
	}
	return statements, gjson.Get(body, "more").String()
}

// ParseStatement converts one raw statement into the tagged-union model.
// Variant discriminants (objectType) are read exactly once, here.
func ParseStatement(raw gjson.Result) Statement {
	s := Statement{
		ID:    raw.Get("id").String(),
		Actor: parseActor(raw.Get("actor")),
		Verb: Verb{
			ID: raw.Get("verb.id").String(),
		},
		Object: parseObject(raw.Get("object")),
	}

	if ts := raw.Get("timestamp").String(); ts != "" {
		s.Timestamp = parseTime(ts)
	}
	if ts := raw.Get("stored").String(); ts != "" {
		s.Stored = parseTime(ts)
	}

	if res := raw.Get("result"); res.Exists() {
		s.Result = parseResult(res)
	}

	if reg := raw.Get("context.registration").String(); reg != "" {
		s.Context = &Context{Registration: reg}
	}

	return s
}

func parseActor(raw gjson.Result) Actor {
	// xAPI defaults to "Agent" when objectType is absent.
	if raw.Get("objectType").String() == "Group" {
		actor := Actor{Kind: ActorGroup}
		for _, m := range raw.Get("member").Array() {
			actor.Members = append(actor.Members, parseAgent(m))
		}
		return actor
	}
	return Actor{Kind: ActorAgent, Agent: parseAgent(raw)}
}

func parseAgent(raw gjson.Result) Agent {
	agent := Agent{
		Name: raw.Get("name").String(),
		Mbox: raw.Get("mbox").String(),
	}
	if acc := raw.Get("account"); acc.Exists() {
		agent.Account = &Account{
			HomePage: acc.Get("homePage").String(),
			Name:     acc.Get("name").String(),
		}
	}
	return agent
}

func parseObject(raw gjson.Result) Object {
	switch raw.Get("objectType").String() {
	case "StatementRef":
		return Object{Kind: ObjectStatementRef, ID: raw.Get("id").String()}
	case "SubStatement":
		return Object{Kind: ObjectSubStatement, Raw: raw.Raw}
	default:
		// "Activity" or absent, which xAPI treats as Activity.
		return Object{Kind: ObjectActivity, ID: raw.Get("id").String()}
	}
}

func parseResult(raw gjson.Result) *Result {
	result := &Result{Duration: raw.Get("duration").String()}
	if v := raw.Get("success"); v.Exists() {
		b := v.Bool()
		result.Success = &b
	}
	if v := raw.Get("completion"); v.Exists() {
		b := v.Bool()
		result.Completion = &b
	}
	if sc := raw.Get("score"); sc.Exists() {
		score := &Score{}
		if v := sc.Get("scaled"); v.Exists() {
			f := v.Float()
			score.Scaled = &f
		}
		if v := sc.Get("raw"); v.Exists() {
			f := v.Float()
			score.Raw = &f
		}
		if v := sc.Get("min"); v.Exists() {
			f := v.Float()
			score.Min = &f
		}
		if v := sc.Get("max"); v.Exists() {
			f := v.Float()
			score.Max = &f
		}
		result.Score = score
	}
	return result
}

func parseTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
