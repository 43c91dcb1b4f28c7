// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the Bubble Tea chat screen of the terminal client.

The screen renders the display.Manager of a client.Session. Turns run in
tea.Cmds that block in Session.Send, Edit or Retry; the manager's
subscription wakes the program, which re-renders from a fresh snapshot.
Rendering therefore never races the stream.

# Keys

	enter      send (or resend an edit)
	C-j        newline
	esc        stop the reply, or cancel an edit
	C-r        retry the last reply
	C-e        edit the last message
	C-t        toggle tools
	C-o        show reasoning text
	PgUp/PgDn  scroll
	F1         help
	C-c        stop the reply, or quit when idle

# Commands

/help, /model, /reasoning, /tools, /expand, /retry, /edit, /reload, /chat
and /quit.
*/
package chat
