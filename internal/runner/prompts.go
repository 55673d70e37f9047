package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/watzon/dbsentry/internal/playbooks"
	"github.com/watzon/dbsentry/internal/scheduler"
)

func monitoringSystemPrompt(playbook string) string {
	return fmt.Sprintf(`You are a PostgreSQL database administrator running an unattended health check.
You are executing the playbook %q against a production database.
Use the available tools to gather facts; never guess values you can query.
Execute the playbook step by step, then summarize what you found, calling out
anything that needs a human.`, playbook)
}

const severitySystemPrompt = `You review the transcript of an automated PostgreSQL health check and
classify its outcome.
- info: nothing needs attention.
- warning: something should be looked at during working hours.
- alert: something needs attention now (outage risk, blocked sessions, saturation,
  wraparound risk, failing checks).`

const drillDownSystemPrompt = `You review the transcript of an automated PostgreSQL health check and decide
whether one more playbook would help explain the findings. Only recommend a
playbook when the findings point at a specific problem it investigates.`

const summarySystemPrompt = `You write the final report of an automated PostgreSQL health check for the
on-call engineer. Cover what was checked, what was found, the likely cause and
concrete next steps. Use short markdown sections.`

func playbookMessage(p playbooks.Playbook, ok bool, name string) string {
	if !ok {
		return fmt.Sprintf("Run the playbook %q. Fetch it with getPlaybook first.", name)
	}
	return fmt.Sprintf("Run the playbook %q.\n\n%s", p.Name, p.Content)
}

// additionalInstructionsMessage is always the second user turn, so the
// transcript layout does not depend on whether the schedule carries any.
func additionalInstructionsMessage(s *scheduler.Schedule) string {
	text := strings.TrimSpace(s.AdditionalInstructions)
	if text == "" {
		text = "None."
	}
	return "Additional instructions for this database:\n" + text
}

const (
	classifyInstruction  = "Classify the outcome of the health check above."
	drillDownInstruction = "Should another playbook run to investigate the findings above?"
	summaryInstruction   = "Write the final report for the health check above."
)

// severitySchema constrains the classification to the three levels.
var severitySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"notificationLevel": {"type": "string", "enum": ["info", "warning", "alert"]}
	},
	"required": ["summary", "notificationLevel"]
}`)

type severity struct {
	Summary           string `json:"summary"`
	NotificationLevel string `json:"notificationLevel"`
}

type drillDown struct {
	ShouldRunPlaybook   bool   `json:"shouldRunPlaybook"`
	RecommendedPlaybook string `json:"recommendedPlaybook"`
}

// drillDownSchema limits recommendations to the registered playbook names.
// With no names the recommendation is left as a free string; the registry
// lookup still rejects unknown playbooks.
func drillDownSchema(names []string) (json.RawMessage, error) {
	recommended := map[string]any{"type": "string"}
	if len(names) > 0 {
		recommended["enum"] = names
	}
	schema, err := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"shouldRunPlaybook":   map[string]any{"type": "boolean"},
			"recommendedPlaybook": recommended,
		},
		"required": []string{"shouldRunPlaybook"},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding drill-down schema: %w", err)
	}
	return schema, nil
}

func notificationTitle(level scheduler.NotificationLevel, playbook, connection string) string {
	return fmt.Sprintf("[%s] %s on %s", strings.ToUpper(string(level)), playbook, connection)
}
