package supervisor

import (
	"fmt"
	"sort"
	"strings"
)

// maxSummaryValue truncates individual argument values in generic
// parameter summaries.
const maxSummaryValue = 60

// ParamSummary renders a short human-readable description of a tool
// call's parameters. Common tools get bespoke formatting; everything
// else falls back to a truncated key:value join.
func ParamSummary(tool string, args map[string]any) string {
	str := func(key string) string {
		if v, ok := args[key].(string); ok {
			return v
		}
		return ""
	}

	switch tool {
	case "search_code":
		s := fmt.Sprintf("%q in %s", str("query"), str("repository"))
		if f := str("filter"); f != "" {
			s += " (" + f + ")"
		}
		return s
	case "read_file":
		s := fmt.Sprintf("%s in %s", str("path"), str("repository"))
		if start, ok := args["start_line"].(float64); ok {
			if end, ok := args["end_line"].(float64); ok {
				s += fmt.Sprintf(" lines %d-%d", int(start), int(end))
			} else {
				s += fmt.Sprintf(" from line %d", int(start))
			}
		}
		return s
	case "create_branch":
		return fmt.Sprintf("%s in %s", str("branch"), str("repository"))
	case "create_pull_request":
		return fmt.Sprintf("%q (%s → %s)", str("title"), str("head"), str("base"))
	case "comment_on_pr":
		return fmt.Sprintf("%s#%v", str("repository"), args["number"])
	case "get_issue", "comment_on_issue":
		return str("issue_id")
	case "update_issue_status":
		return fmt.Sprintf("%s → %s", str("issue_id"), str("state"))
	case "set_issue_priority":
		return fmt.Sprintf("%s → priority %v", str("issue_id"), args["priority"])
	case "send_slack_message":
		return fmt.Sprintf("to %s: %s", str("channel"), truncateValue(str("text")))
	case "read_thread":
		return fmt.Sprintf("%s @ %s", str("channel"), str("thread_ts"))
	}
	return genericSummary(args)
}

func genericSummary(args map[string]any) string {
	if len(args) == 0 {
		return "(no parameters)"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", k, truncateValue(fmt.Sprint(args[k]))))
	}
	return strings.Join(parts, ", ")
}

func truncateValue(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxSummaryValue {
		return s
	}
	return s[:maxSummaryValue] + "…"
}

// ResultSummary renders a short description of a successful tool
// result for narration.
func ResultSummary(tool, result string) string {
	switch tool {
	case "search_code":
		if strings.HasPrefix(result, "Found ") {
			if i := strings.Index(result, "\n"); i > 0 {
				return result[:i]
			}
		}
		return "no matches"
	case "read_file":
		n := strings.Count(result, "\n") + 1
		return fmt.Sprintf("read %d lines", n)
	case "read_thread":
		n := strings.Count(result, "\n")
		return fmt.Sprintf("read %d messages", n)
	case "create_pull_request":
		if i := strings.LastIndex(result, "/"); i > 0 {
			return "opened PR #" + result[i+1:]
		}
	}
	return truncateValue(result)
}

// ActionLabel is the narration label for an action-category tool.
func ActionLabel(tool string) string {
	labels := map[string]string{
		"create_branch":       "Created branch",
		"create_pull_request": "Opened pull request",
		"comment_on_pr":       "Commented on pull request",
		"comment_on_issue":    "Commented on issue",
		"update_issue_status": "Updated issue status",
		"set_issue_priority":  "Set issue priority",
		"send_slack_message":  "Sent Slack message",
	}
	if l, ok := labels[tool]; ok {
		return l
	}
	return "Ran " + tool
}

// Guidance maps a failed tool call to a remediation hint for the model.
func Guidance(tool string, err error) string {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "circuit breaker"):
		return "You have repeated this exact call too many times. Do not retry it — use a different tool or different parameters, or finish with what you have."
	case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return "The target does not exist. Verify the identifier (search first if unsure) before retrying."
	case strings.Contains(msg, "rate limit"):
		return "The API is rate limited. Avoid further calls to this service for now and work with the information you already have."
	case strings.Contains(msg, "missing required parameter"):
		return "A required parameter was missing. Re-issue the call with all required parameters filled in."
	}

	switch tool {
	case "create_branch":
		return "The branch may already exist or the base branch name may be wrong. Check with read operations before retrying."
	case "create_pull_request":
		return "Ensure the head branch exists and differs from the base branch before opening a pull request."
	case "update_issue_status":
		return "The workflow state name may not match this team's states. Fetch the issue first to confirm valid states."
	}
	return "Consider whether this operation is necessary, and try an alternative approach if it keeps failing."
}
