package interview

import (
	"fmt"
	"strings"

	"github.com/ent0n29/screener/internal/realtime"
)

// BuildSystemPrompt renders the interviewer instructions for one session.
func BuildSystemPrompt(sc SessionContext) string {
	var b strings.Builder
	role := sc.JobTitle
	if role == "" {
		role = "the open position"
	}
	name := sc.CandidateName
	if name == "" {
		name = "the candidate"
	}

	fmt.Fprintf(&b, "You are a professional, friendly interviewer running a screening interview for %s.\n", role)
	fmt.Fprintf(&b, "You are speaking with %s.\n", name)
	if sc.JobDescription != "" {
		fmt.Fprintf(&b, "\nJob description:\n%s\n", sc.JobDescription)
	}
	if sc.ResumeText != "" {
		fmt.Fprintf(&b, "\nCandidate resume:\n%s\n", sc.ResumeText)
	}
	b.WriteString(`
Guidelines:
- Ask one question at a time and wait for the answer.
- Tailor questions to the role and to the resume; follow up on vague answers with one short question.
- Keep your own turns brief.
- The interview lasts at most 30 minutes.
`)
	if sc.Mode == realtime.ModeText {
		b.WriteString("- The candidate answers in writing; reply in text only.\n")
	}
	fmt.Fprintf(&b, "- When you have covered enough ground, thank the candidate, give a short closing remark and then call the %s tool.\n", realtime.EndInterviewTool)
	return b.String()
}

// GreetingInstructions is sent with the first response request.
func GreetingInstructions(sc SessionContext) string {
	name := sc.CandidateName
	if name == "" {
		name = "the candidate"
	}
	role := sc.JobTitle
	if role == "" {
		role = "this role"
	}
	return fmt.Sprintf("Greet %s by name, introduce yourself as the interviewer for %s and ask your first question.", name, role)
}
