// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the rigrun-chat
terminal client.

# Color System (colors.go)

Every color is a Lip Gloss AdaptiveColor, so the same token works on light
and dark terminals:

  - Purple - assistant messages and the reasoning summary
  - Cyan - user messages, prompts and the brand
  - Emerald - successful tool results and the ready state
  - Amber - tool calls, warnings and the submitted state
  - Rose - errors

Status indicators ([OK], [X], [!], [i]) always accompany color so that
states remain distinguishable without it.

# Themes (theme.go)

NewTheme builds a Theme from a name: "dark", "light" or "auto". "auto" asks
the terminal via termenv. The Theme groups the styles for the header,
message bubbles, reasoning and tool blocks, the status bar and the input
area.

	theme := styles.NewTheme("auto")
	fmt.Println(theme.UserBubble.Render("hello"))
*/
package styles
