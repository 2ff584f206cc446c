package toolcall

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/mcpbridge/mcpbridge-go/internal/contracts"
	"github.com/mcpbridge/mcpbridge-go/internal/tools"
)

// canonicalTagPattern extracts one canonical tool-call occurrence, capturing
// (toolName, rawInput, description). All dialects are normalized into this
// form before the single extraction pass.
var canonicalTagPattern = regexp.MustCompile(`(?s)<tool\s+name="([^"]+)"\s+input="([^"]*)"\s*>(.*?)</tool>`)

// Legacy dialects normalized into the canonical form.
var (
	legacySelfClosingPattern = regexp.MustCompile(`<use-tool\s+name="([^"]+)"(?:\s+input="([^"]*)")?\s*/>`)
	legacyListReposPattern   = regexp.MustCompile(`<github-list-repos\s*/>`)
)

// repoListingIntent matches messages that clearly ask for the user's GitHub
// repositories without emitting any markup. Best-effort convenience.
var repoListingIntent = regexp.MustCompile(`(?i)\b(list|show)\b[^.!?\n]*\bmy\b[^.!?\n]*\b(github\s+)?repos(itories)?\b`)

const listReposTag = `<tool name="github_list_repositories" input="">List GitHub repositories</tool>`

// Processor rewrites assistant messages: it finds tool-call markup, executes
// the named tools against the live tool map, and substitutes results or
// errors inline. Failures never propagate out; every failure degrades to an
// inline error block.
type Processor struct {
	factory *tools.Factory
	logger  *zap.Logger
}

// NewProcessor wires a processor over the tool factory.
func NewProcessor(factory *tools.Factory, logger *zap.Logger) *Processor {
	return &Processor{
		factory: factory,
		logger:  logger,
	}
}

// Process runs the full pipeline over one assistant message and returns the
// rewritten text plus the per-call records, in encounter order.
func (p *Processor) Process(ctx context.Context, message string) (string, []*contracts.ToolCallRecord) {
	message = p.synthesizeFromIntent(message)
	message = normalizeDialects(message)

	matches := canonicalTagPattern.FindAllStringSubmatchIndex(message, -1)
	if len(matches) == 0 {
		return message, nil
	}

	toolMap := p.factory.CreateTools(ctx)

	var b strings.Builder
	records := make([]*contracts.ToolCallRecord, 0, len(matches))
	prev := 0

	for _, match := range matches {
		tagStart, tagEnd := match[0], match[1]
		name := message[match[2]:match[3]]
		rawInput := message[match[4]:match[5]]
		description := strings.TrimSpace(message[match[6]:match[7]])

		b.WriteString(message[prev:tagStart])
		prev = tagEnd

		record := p.executeCall(ctx, toolMap, name, rawInput, description)
		records = append(records, record)

		if record.Error != "" {
			fmt.Fprintf(&b, "<tool-error name=%q>\nError: %s\n</tool-error>", name, record.Error)
		} else {
			fmt.Fprintf(&b, "<tool-result name=%q>\n%s\n</tool-result>", name, record.Result)
		}
	}
	b.WriteString(message[prev:])

	return b.String(), records
}

// executeCall resolves and runs one occurrence. All failure modes land in
// record.Error; nothing panics or aborts the surrounding message.
func (p *Processor) executeCall(ctx context.Context, toolMap map[string]*tools.Tool, name, rawInput, description string) (record *contracts.ToolCallRecord) {
	record = &contracts.ToolCallRecord{
		ID:          ulid.Make().String(),
		ToolName:    name,
		RawInput:    rawInput,
		Description: description,
	}

	tool, ok := toolMap[name]
	if !ok {
		record.Error = fmt.Sprintf("unknown tool %q", name)
		p.logger.Warn("Tool call names an unknown tool", zap.String("tool", name))
		return record
	}

	parsed := ParseInput(rawInput)
	record.ParsedInput = parsed

	defer func() {
		if r := recover(); r != nil {
			record.Error = fmt.Sprintf("tool panicked: %v", r)
			p.logger.Error("Tool call panicked",
				zap.String("tool", name),
				zap.Any("panic", r))
		}
	}()

	start := time.Now()
	result, err := tool.Execute(ctx, argsFromParsed(parsed))
	record.Duration = time.Since(start).String()

	if err != nil {
		record.Error = err.Error()
		return record
	}
	record.Result = result
	return record
}

// argsFromParsed adapts a parsed input value to the map shape adapters
// expect.
func argsFromParsed(parsed interface{}) map[string]interface{} {
	switch v := parsed.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return v
	case []interface{}:
		return map[string]interface{}{"args": v}
	case string:
		return map[string]interface{}{"input": v}
	default:
		return map[string]interface{}{"value": v}
	}
}

// synthesizeFromIntent appends a repository-listing tool call when the
// message clearly asks for one but carries no markup of any dialect.
func (p *Processor) synthesizeFromIntent(message string) string {
	if strings.Contains(message, "<tool") || strings.Contains(message, "<use-tool") || strings.Contains(message, "<github-list-repos") {
		return message
	}
	if !repoListingIntent.MatchString(message) {
		return message
	}
	p.logger.Debug("Synthesized repository-listing tool call from intent")
	return message + "\n\n" + listReposTag
}

// normalizeDialects rewrites the legacy markup forms into the canonical
// <tool ...>...</tool> tag.
func normalizeDialects(message string) string {
	message = legacySelfClosingPattern.ReplaceAllString(message, `<tool name="$1" input="$2"></tool>`)
	message = legacyListReposPattern.ReplaceAllString(message, listReposTag)
	return message
}
