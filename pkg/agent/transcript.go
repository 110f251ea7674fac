package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/cloudwego/eino/schema"
	"github.com/nerdface-ai/browser-agent-go/internals/utils"
)

// TranscriptSink durably records the exchange of one step.
type TranscriptSink interface {
	Write(step int, input []*schema.Message, output *AgentOutput) error
}

// FileTranscript writes one text file per step: <Prefix>_<step>.txt.
type FileTranscript struct {
	Prefix string
}

func NewFileTranscript(prefix string) *FileTranscript {
	return &FileTranscript{Prefix: prefix}
}

// DefaultTranscriptPrefix places transcripts under the user's data dir.
func DefaultTranscriptPrefix() (string, error) {
	return xdg.DataFile(filepath.Join("browser-agent-go", "conversations", "conversation"))
}

func (t *FileTranscript) Write(step int, input []*schema.Message, output *AgentOutput) error {
	target := fmt.Sprintf("%s_%d.txt", t.Prefix, step)
	if dir := filepath.Dir(target); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	var sb strings.Builder
	for _, msg := range input {
		fmt.Fprintf(&sb, " %s \n", msg.Role)
		sb.WriteString(utils.PrettyJSON(messageText(msg)))
		sb.WriteString("\n\n")
	}
	if output != nil {
		formatted, err := utils.IndentJSON(output)
		if err != nil {
			return err
		}
		sb.WriteString(" AgentOutput \n")
		sb.WriteString(formatted)
		sb.WriteString("\n")
	}
	return os.WriteFile(target, []byte(sb.String()), 0o644)
}
