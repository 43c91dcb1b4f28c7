// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// command is a slash command typed into the input.
type command struct {
	usage string
	run   func(m Model, args []string) (Model, tea.Cmd)
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help": {
			usage: "/help",
			run: func(m Model, _ []string) (Model, tea.Cmd) {
				return m, m.setNotice(commandSummary())
			},
		},
		"model": {
			usage: "/model [name]",
			run: func(m Model, args []string) (Model, tea.Cmd) {
				if len(args) == 0 {
					name := m.session.Model()
					if name == "" {
						name = "server default"
					}
					return m, m.setNotice("model: " + name)
				}
				m.session.SetModel(args[0])
				return m, m.setNotice("model set to " + args[0])
			},
		},
		"reasoning": {
			usage: "/reasoning [off|low|medium|high]",
			run: func(m Model, args []string) (Model, tea.Cmd) {
				if len(args) == 0 {
					level := m.session.ReasoningLevel()
					if level == "" {
						level = "model default"
					}
					return m, m.setNotice("reasoning: " + level)
				}
				level := strings.ToLower(args[0])
				if level == "off" || level == "default" {
					level = ""
				}
				if err := m.session.SetReasoningLevel(level); err != nil {
					return m, m.setNotice(err.Error())
				}
				return m, m.setNotice("reasoning set to " + args[0])
			},
		},
		"tools": {
			usage: "/tools [on|off]",
			run: func(m Model, args []string) (Model, tea.Cmd) {
				on := !m.session.Tools()
				if len(args) > 0 {
					on = args[0] == "on" || args[0] == "true"
				}
				m.session.SetTools(on)
				return m, m.setNotice("tools " + onOff(on))
			},
		},
		"expand": {
			usage: "/expand",
			run: func(m Model, _ []string) (Model, tea.Cmd) {
				m.messages.ShowReasoning = !m.messages.ShowReasoning
				m.refresh()
				return m, nil
			},
		},
		"retry": {
			usage: "/retry",
			run: func(m Model, _ []string) (Model, tea.Cmd) {
				return m.retryLast()
			},
		},
		"edit": {
			usage: "/edit",
			run: func(m Model, _ []string) (Model, tea.Cmd) {
				return m.editLast()
			},
		},
		"reload": {
			usage: "/reload",
			run: func(m Model, _ []string) (Model, tea.Cmd) {
				return m, m.hydrateCmd()
			},
		},
		"chat": {
			usage: "/chat",
			run: func(m Model, _ []string) (Model, tea.Cmd) {
				return m, m.setNotice("chat " + m.session.ChatID())
			},
		},
		"quit": {
			usage: "/quit",
			run: func(m Model, _ []string) (Model, tea.Cmd) {
				m.Close()
				return m, tea.Quit
			},
		},
	}
}

// runCommand dispatches a line starting with "/".
func (m Model) runCommand(line string) (Model, tea.Cmd) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return m, nil
	}
	name := strings.ToLower(fields[0])
	if name == "exit" || name == "q" {
		name = "quit"
	}
	cmd, ok := commands[name]
	if !ok {
		return m, m.setNotice("unknown command /" + name + " (try /help)")
	}
	return cmd.run(m, fields[1:])
}

// commandSummary lists the command usages on one line.
func commandSummary() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		names[i] = commands[name].usage
	}
	return strings.Join(names, "  ")
}
