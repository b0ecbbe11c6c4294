package classify

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"dialix-pipeline/internal/models"
)

const generalTemplate = `Here is a conversation between a customer and an operator. The customer is interested in buying an online IT course and the operator is trying to sell it. The conversation is in Uzbek. Answer the following questions and return JSON only, in this format:
{
  "is_conversation_over": true or false,
  "sentiment_analysis_of_conversation": "positive" or "negative" or "neutral",
  "sentiment_analysis_of_operator": "positive" or "negative" or "neutral",
  "sentiment_analysis_of_customer": "positive" or "negative" or "neutral",
  "is_customer_satisfied": true or false,
  "is_customer_agreed_to_buy": true or false,
  "is_customer_interested_to_product": true or false,
  "which_course_customer_interested": one or more of %s, or null,
  "which_platform_customer_found_about_the_course": the platform the customer mentions, or null,
  "summary": "summary of the conversation in Uzbek with corrected punctuation, 20-30 words"
}`

const checklistTemplate = `You are given a conversation between a call center operator and a potential customer. The operator should ask the questions listed below, grouped by segment. For every question decide whether the operator asked it.

Return JSON only, keyed by segment and then by the exact question text:
{
  "Segment": {"Question": true or false}
}

Questions:
`

func generalPrompt(courses []string) string {
	list, _ := json.Marshal(courses)
	return fmt.Sprintf(generalTemplate, list)
}

func checklistPrompt(checklist map[string][]string) string {
	var b strings.Builder
	b.WriteString(checklistTemplate)
	for _, seg := range segments(checklist) {
		fmt.Fprintf(&b, "%s:\n", seg)
		for _, q := range checklist[seg] {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	return b.String()
}

func segments(checklist map[string][]string) []string {
	out := make([]string, 0, len(checklist))
	for seg := range checklist {
		out = append(out, seg)
	}
	sort.Strings(out)
	return out
}

type generalAnswer struct {
	IsConversationOver             *bool           `json:"is_conversation_over"`
	SentimentOfConversation        *string         `json:"sentiment_analysis_of_conversation"`
	SentimentOfOperator            *string         `json:"sentiment_analysis_of_operator"`
	SentimentOfCustomer            *string         `json:"sentiment_analysis_of_customer"`
	IsCustomerSatisfied            *bool           `json:"is_customer_satisfied"`
	IsCustomerAgreedToBuy          *bool           `json:"is_customer_agreed_to_buy"`
	IsCustomerInterestedToProduct  *bool           `json:"is_customer_interested_to_product"`
	WhichCourseCustomerInterested  json.RawMessage `json:"which_course_customer_interested"`
	WhichPlatformCustomerFoundFrom *string         `json:"which_platform_customer_found_about_the_course"`
	Summary                        *string         `json:"summary"`
}

func parseGeneral(answer string) (models.ResultBundle, error) {
	raw := ExtractJSON(answer)
	if raw == "" {
		return models.ResultBundle{}, fmt.Errorf("%w: %.120q", ErrMalformedAnswer, answer)
	}
	var g generalAnswer
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return models.ResultBundle{}, fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
	}
	return models.ResultBundle{
		IsConversationOver:             g.IsConversationOver,
		SentimentOfConversation:        g.SentimentOfConversation,
		SentimentOfOperator:            g.SentimentOfOperator,
		SentimentOfCustomer:            g.SentimentOfCustomer,
		IsCustomerSatisfied:            g.IsCustomerSatisfied,
		IsCustomerAgreedToBuy:          g.IsCustomerAgreedToBuy,
		IsCustomerInterestedToProduct:  g.IsCustomerInterestedToProduct,
		WhichCourseCustomerInterested:  courseField(g.WhichCourseCustomerInterested),
		WhichPlatformCustomerFoundFrom: g.WhichPlatformCustomerFoundFrom,
		Summary:                        g.Summary,
	}, nil
}

// courseField accepts either a single name or a list of names.
func courseField(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" || strings.EqualFold(one, "none") {
			return nil
		}
		return &one
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		joined := strings.Join(many, ", ")
		return &joined
	}
	return nil
}

// parseChecklist accepts the nested segment->question->bool shape. A flat
// question->bool answer is regrouped under the checklist's segments.
func parseChecklist(answer string, checklist map[string][]string) (models.ChecklistResult, error) {
	raw := ExtractJSON(answer)
	if raw == "" {
		return nil, fmt.Errorf("%w: %.120q", ErrMalformedAnswer, answer)
	}

	var nested models.ChecklistResult
	if err := json.Unmarshal([]byte(raw), &nested); err == nil {
		return nested, nil
	}

	var flat map[string]bool
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
	}
	out := make(models.ChecklistResult, len(checklist))
	for seg, questions := range checklist {
		out[seg] = make(map[string]bool, len(questions))
		for _, q := range questions {
			out[seg][q] = flat[q]
		}
	}
	return out, nil
}

// ExtractJSON strips markdown fences and returns the first balanced JSON
// object in s, or "" when there is none.
func ExtractJSON(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, fence := range []string{"```json", "```"} {
		s = strings.ReplaceAll(s, fence, "")
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth, inString, escaped := 0, false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				candidate := strings.TrimSpace(s[start : i+1])
				if json.Valid([]byte(candidate)) {
					return candidate
				}
				return ""
			}
		}
	}
	return ""
}
