// Package prompt builds the system instructions and conversation payloads
// sent to the tutor model. Every prompt demands strict JSON output; the
// field names here are the contract the dialogue package decodes against.
package prompt

import (
	"fmt"
	"strings"

	"github.com/socratic-dev/socratic/internal/llm/provider"
)

// Sampling temperatures tuned per call type: summaries should be stable,
// topic suggestions can roam. Dialogue calls use the caller's configured
// base temperature, defaulting to DialogueTemperature.
const (
	DialogueTemperature    = 0.7
	SummaryTemperature     = 0.5
	SuggestionsTemperature = 0.9
)

// MaxTokens is the default bound on tutor completions.
const MaxTokens = 1024

// hintHistoryWindow limits how much recent conversation a hint request sees.
const hintHistoryWindow = 6

// HistoryEntry is one turn as the prompt layer sees it: assistant content is
// the question text that was actually shown to the student.
type HistoryEntry struct {
	Role    string // "user" or "assistant"
	Content string
}

// Request is a ready-to-send model call. A zero Temperature means the call
// has no per-call override and the caller's base temperature applies.
type Request struct {
	System      string
	Messages    []provider.Message
	Temperature float64
}

const socraticSystem = `You are Socratic, a learning companion that NEVER gives direct answers.
You practice the Socratic method: you lead students to understanding through carefully chosen questions.

## CORE RULES:
1. NEVER answer the student's question or explain the concept outright.
2. ALWAYS reply with a guiding question that moves the student closer to understanding.
3. When the student shows a correct insight, acknowledge it briefly and push deeper with a harder question.
4. When the student reveals a misconception, probe it gently with a question that exposes the flaw.
5. When the student is stuck, break the problem into a simpler sub-question.
6. Track the student's understanding level across the whole conversation.

## RESPONSE FORMAT (strict JSON):
{
    "question": "Your Socratic question to the student",
    "thinking": "Brief internal reasoning about the student's current understanding (hidden from the student)",
    "understanding_signals": {
        "correct_insights": ["correct things the student has demonstrated"],
        "misconceptions": ["misconceptions detected"],
        "gaps": ["knowledge gaps still to be explored"]
    },
    "understanding_score": 0,
    "difficulty_level": "foundational",
    "hint_available": true,
    "encouragement": "One encouraging sentence about their progress"
}

understanding_score is an integer from 0 to 100.
difficulty_level is one of: foundational, intermediate, advanced, mastery.

## DIFFICULTY PROGRESSION:
- foundational: recall and definition-level questions
- intermediate: application and analysis questions
- advanced: synthesis and evaluation questions
- mastery: questions requiring transfer to novel contexts

## BEHAVIOR:
- Open with foundational questions to gauge baseline understanding.
- Raise difficulty as the student demonstrates understanding; after roughly three correct answers at a level, move up.
- When the student struggles, decompose into simpler sub-questions.
- Be warm but intellectually rigorous, keep questions concise, and build on the student's previous answers.`

const hintSystem = `You are providing a HINT (not an answer) to a stuck student.
The hint must:
1. Point in the right direction without revealing the full answer.
2. Reference something the student may already know.
3. Offer an analogy or a simpler related concept.
4. Stay within 1-2 sentences.

Respond with valid JSON only: {"hint": "your hint text"}`

const summarySystem = `You are summarizing a Socratic learning session.
Analyze the conversation and produce a comprehensive learning summary.

Respond with valid JSON only:
{
    "topic_summary": "What the session covered (2-3 sentences)",
    "key_discoveries": ["Things the student discovered through questioning"],
    "misconceptions_addressed": ["Misconceptions that were identified and corrected"],
    "remaining_gaps": ["Areas that still need exploration"],
    "overall_understanding": 0,
    "recommended_next_topics": ["Topics to explore next"],
    "learning_style_notes": "How this student learns best (1-2 sentences)",
    "time_well_spent_score": 0
}

overall_understanding and time_well_spent_score are integers from 0 to 100.`

const suggestionsSystem = `You suggest fascinating learning topics. Respond with valid JSON only.`

// StartSession asks for the opening foundational question on a topic.
func StartSession(topic, context string) Request {
	if context == "" {
		context = "None provided"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "A student wants to learn about: %s\n\n", topic)
	fmt.Fprintf(&b, "Additional context from the student: %s\n\n", context)
	b.WriteString("Begin the Socratic dialogue. Start with a foundational question to gauge their current understanding of this topic. Remember: do NOT explain the topic - ask a question that reveals what they already know.")

	return Request{
		System:   socraticSystem,
		Messages: []provider.Message{{Role: "user", Content: b.String()}},
	}
}

// Continue builds the next-question request from the conversation so far and
// the student's latest answer. History maps onto real conversation roles so
// providers with native multi-turn support see the actual dialogue shape.
func Continue(topic string, history []HistoryEntry, studentResponse string) Request {
	msgs := make([]provider.Message, 0, len(history)+1)
	for _, h := range history {
		role := h.Role
		if role != "assistant" {
			role = "user"
		}
		msgs = append(msgs, provider.Message{Role: role, Content: h.Content})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Student's latest response: %s\n\n", studentResponse)
	b.WriteString("Analyze their response for understanding, misconceptions, and gaps. Then ask your next Socratic question. Remember: NEVER give the answer directly. Respond with valid JSON only.")
	msgs = append(msgs, provider.Message{Role: "user", Content: b.String()})

	return Request{
		System:   socraticSystem + "\n\nTopic being explored: " + topic,
		Messages: msgs,
	}
}

// Hint requests a nudge for the question the student is stuck on, carrying
// only the recent conversation window.
func Hint(topic string, history []HistoryEntry, currentQuestion string) Request {
	if len(history) > hintHistoryWindow {
		history = history[len(history)-hintHistoryWindow:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\nCurrent question the student is stuck on: %s\n\n", topic, currentQuestion)
	b.WriteString("Recent conversation:\n")
	writeTranscript(&b, history)
	b.WriteString("\nProvide a helpful hint. Respond with valid JSON only.")

	return Request{
		System:   hintSystem,
		Messages: []provider.Message{{Role: "user", Content: b.String()}},
	}
}

// Summary requests the end-of-session report over the full transcript.
func Summary(topic string, history []HistoryEntry) Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nFull conversation:\n", topic)
	writeTranscript(&b, history)
	b.WriteString("\n\nProvide a comprehensive learning session summary. Respond with valid JSON only.")

	return Request{
		System:      summarySystem,
		Messages:    []provider.Message{{Role: "user", Content: b.String()}},
		Temperature: SummaryTemperature,
	}
}

// Suggestions requests six topic ideas, optionally biased by interests.
func Suggestions(interests string) Request {
	var b strings.Builder
	b.WriteString("Suggest 6 diverse, interesting topics for Socratic learning exploration.\n")
	if interests != "" {
		fmt.Fprintf(&b, "The student is interested in: %s\n", interests)
	} else {
		b.WriteString("Provide a diverse mix across science, technology, philosophy, mathematics, history, and social sciences.\n")
	}
	b.WriteString("\nRespond with valid JSON:\n{\n    \"suggestions\": [\n        {\"topic\": \"topic name\", \"description\": \"One-line hook that makes it intriguing\", \"category\": \"category\", \"difficulty\": \"beginner|intermediate|advanced\"}\n    ]\n}")

	return Request{
		System:      suggestionsSystem,
		Messages:    []provider.Message{{Role: "user", Content: b.String()}},
		Temperature: SuggestionsTemperature,
	}
}

func writeTranscript(b *strings.Builder, history []HistoryEntry) {
	for _, h := range history {
		role := "Student"
		if h.Role == "assistant" {
			role = "Socratic"
		}
		fmt.Fprintf(b, "%s: %s\n", role, h.Content)
	}
}
