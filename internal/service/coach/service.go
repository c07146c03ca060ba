package coach

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/aaroh/backend/internal/model/practice"
)

const coachSystemPrompt = `You are a patient guitar teacher reviewing a student's practice take.
You receive a summary of chord recognition results. Reply with two or three short sentences of
concrete advice: which chord or transition to drill, and one technique tip. Do not repeat the
numbers back. Do not use markdown. Answer in English.`

const coachUserPrompt = `Practice summary:
{summary}`

// maxNoteRunes 限制教练建议的长度，避免模型输出过长内容。
const maxNoteRunes = 600

// Config 控制教练服务。
type Config struct {
	Enabled bool
}

// Service 调用大模型为练习结果生成简短的教练建议。
// 建议仅作为静态 guidance 的补充，失败时返回空字符串。
type Service struct {
	enabled bool
	chain   compose.Runnable[map[string]any, *schema.Message]
	logger  *slog.Logger
}

// NewService 创建教练服务。chatModel 为 nil 或未启用时返回禁用的服务。
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{
		enabled: cfg.Enabled && chatModel != nil,
		logger:  logger.With(slog.String("component", "coach")),
	}
	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(coachSystemPrompt),
		schema.UserMessage(coachUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile coach chain: %w", err)
	}
	svc.chain = runnable
	return svc, nil
}

// Enabled 返回教练服务是否可用。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.chain != nil
}

// Advise 根据汇总结果生成建议。
func (s *Service) Advise(ctx context.Context, summary practice.FeedbackSummary) string {
	if !s.Enabled() {
		return ""
	}

	msg, err := s.chain.Invoke(ctx, map[string]any{"summary": describeSummary(summary)})
	if err != nil {
		s.logger.Warn("coach invoke failed, skip note", slog.String("error", err.Error()))
		return ""
	}
	if msg == nil {
		return ""
	}
	return cleanNote(msg.Content)
}

// describeSummary 把汇总结果转换成模型易读的纯文本。
func describeSummary(summary practice.FeedbackSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Level: %s\n", summary.Level)
	fmt.Fprintf(&b, "Accuracy: %.1f%% (%d of %d chords correct, %d stars)\n",
		summary.Accuracy, summary.CorrectChords, summary.TotalChords, summary.Stars)
	if summary.Duration > 0 {
		fmt.Fprintf(&b, "Take length: %.1fs\n", summary.Duration)
	}
	if summary.BestChord != nil {
		fmt.Fprintf(&b, "Strongest chord: %s\n", *summary.BestChord)
	}
	if summary.WorstChord != nil {
		fmt.Fprintf(&b, "Weakest chord: %s\n", *summary.WorstChord)
	}

	if len(summary.MissingChords) > 0 {
		labels := make([]string, 0, len(summary.MissingChords))
		for _, m := range summary.MissingChords {
			labels = append(labels, fmt.Sprintf("%s@%.1fs", m.Chord, m.Time))
		}
		fmt.Fprintf(&b, "Missed: %s\n", strings.Join(labels, ", "))
	}

	if len(summary.TransitionsWrong) > 0 {
		pairs := make([]string, 0, len(summary.TransitionsWrong))
		for _, tr := range summary.TransitionsWrong {
			pairs = append(pairs, fmt.Sprintf("%s->%s x%d", tr.From, tr.To, tr.Count))
		}
		fmt.Fprintf(&b, "Shaky transitions: %s\n", strings.Join(pairs, ", "))
	}
	return strings.TrimSpace(b.String())
}

func cleanNote(content string) string {
	note := strings.TrimSpace(content)
	note = strings.Trim(note, "\"")
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) <= maxNoteRunes {
		return note
	}
	runes := []rune(note)
	return strings.TrimSpace(string(runes[:maxNoteRunes])) + "…"
}
