package permission

import (
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// BashCommand represents a parsed shell command with its arguments.
type BashCommand struct {
	Name       string   // command name (e.g. "rm", "git")
	Args       []string // remaining arguments
	Subcommand string   // first non-flag argument (e.g. "commit" in "git commit")
}

// Signature returns the canonical string the checker matches rules against:
// "git:commit" for commands with a subcommand, otherwise the bare name.
func (c BashCommand) Signature() string {
	if c.Subcommand != "" {
		return c.Name + ":" + c.Subcommand
	}
	return c.Name
}

// AbstractRule returns the widened rule offered for "always" persistence.
func (c BashCommand) AbstractRule() string {
	return "bash(" + c.Name + ":*)"
}

// ParseBashCommand parses a shell command string into its constituent simple
// commands. Pipelines, lists, and substitutions all contribute entries.
func ParseBashCommand(command string) ([]BashCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, err
	}

	var commands []BashCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd := extractCommand(call); cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})

	return commands, nil
}

func extractCommand(call *syntax.CallExpr) *BashCommand {
	if len(call.Args) == 0 {
		return nil
	}

	cmd := &BashCommand{}
	cmd.Name = wordToString(call.Args[0])
	if cmd.Name == "" {
		return nil
	}

	for _, arg := range call.Args[1:] {
		argStr := wordToString(arg)
		cmd.Args = append(cmd.Args, argStr)
		if cmd.Subcommand == "" && !strings.HasPrefix(argStr, "-") {
			cmd.Subcommand = argStr
		}
	}

	return cmd
}

// wordToString flattens a syntax.Word to a plain string. Expansions become
// placeholders so rules cannot be satisfied by dynamic content.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// pathCommands are commands that take filesystem paths and need
// outside-workspace detection.
var pathCommands = map[string]bool{
	"cd":    true,
	"rm":    true,
	"cp":    true,
	"mv":    true,
	"mkdir": true,
	"touch": true,
	"chmod": true,
	"chown": true,
	"rmdir": true,
	"dd":    true,
}

// TouchesPaths checks if a command is in the path-taking list.
func TouchesPaths(name string) bool {
	return pathCommands[name]
}

// ExtractPaths extracts file path arguments from a command.
func ExtractPaths(cmd BashCommand) []string {
	var paths []string
	for _, arg := range cmd.Args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if cmd.Name == "chmod" {
			// Skip mode arguments (numeric or symbolic like u+x).
			if len(arg) > 0 && (arg[0] >= '0' && arg[0] <= '9' ||
				arg[0] == 'u' || arg[0] == 'g' || arg[0] == 'o' || arg[0] == 'a' ||
				arg[0] == '+' || arg[0] == '=') {
				continue
			}
		}
		paths = append(paths, arg)
	}
	return paths
}

// ResolvePath resolves a path against workDir without touching the shell.
func ResolvePath(path, workDir string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	if strings.HasPrefix(path, "~") {
		// Cannot safely expand ~ for an arbitrary user; leave as-is.
		return path
	}
	return filepath.Clean(filepath.Join(workDir, path))
}

// IsWithinDir checks if path is within or under dir.
func IsWithinDir(path, dir string) bool {
	path = filepath.Clean(path)
	dir = filepath.Clean(dir)

	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}
