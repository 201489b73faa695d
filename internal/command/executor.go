// Package command resolves user-defined slash commands into synthesized
// prompts for the agent loop.
package command

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bladecode/blade/pkg/types"
)

// Command is a user-defined command ready for expansion.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Template    string `json:"template"`
	Model       string `json:"model,omitempty"`
	Source      string `json:"source"` // "config" | "file"
}

// Result is the expansion of a command invocation.
type Result struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// Executor loads and expands user-defined commands.
type Executor struct {
	workDir  string
	commands map[string]*Command
}

// NewExecutor loads commands from config and from .blade/commands/*.md files
// in the workspace. File commands override config commands of the same name.
func NewExecutor(workDir string, cfg *types.Config) *Executor {
	e := &Executor{
		workDir:  workDir,
		commands: make(map[string]*Command),
	}
	e.loadFromConfig(cfg)
	e.loadFromFiles()
	return e
}

func (e *Executor) loadFromConfig(cfg *types.Config) {
	if cfg == nil {
		return
	}
	for name, cc := range cfg.Command {
		e.commands[name] = &Command{
			Name:        name,
			Description: cc.Description,
			Template:    cc.Template,
			Model:       cc.Model,
			Source:      "config",
		}
	}
}

// loadFromFiles reads .blade/commands/<name>.md; the file body is the
// template, with an optional first-line "# description".
func (e *Executor) loadFromFiles() {
	dir := filepath.Join(e.workDir, ".blade", "commands")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".md")
		body := string(data)
		description := ""
		if strings.HasPrefix(body, "# ") {
			if idx := strings.IndexByte(body, '\n'); idx > 0 {
				description = strings.TrimPrefix(body[:idx], "# ")
				body = strings.TrimLeft(body[idx+1:], "\n")
			}
		}

		e.commands[name] = &Command{
			Name:        name,
			Description: description,
			Template:    body,
			Source:      "file",
		}
	}
}

// Get looks up a command by name.
func (e *Executor) Get(name string) (*Command, bool) {
	c, ok := e.commands[name]
	return c, ok
}

// List returns all commands sorted by name.
func (e *Executor) List() []*Command {
	out := make([]*Command, 0, len(e.commands))
	for _, c := range e.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute expands a command into a prompt. $ARGUMENTS is replaced with the
// raw argument string; if the template has no placeholder, non-empty
// arguments are appended.
func (e *Executor) Execute(name, args string) (*Result, error) {
	cmd, ok := e.commands[name]
	if !ok {
		return nil, fmt.Errorf("unknown command: /%s", name)
	}

	prompt := cmd.Template
	if strings.Contains(prompt, "$ARGUMENTS") {
		prompt = strings.ReplaceAll(prompt, "$ARGUMENTS", args)
	} else if args != "" {
		prompt = prompt + "\n\n" + args
	}

	return &Result{Prompt: prompt, Model: cmd.Model}, nil
}
