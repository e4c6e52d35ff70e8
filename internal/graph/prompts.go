package graph

import (
	"fmt"
	"strings"

	"github.com/nholden/screentrail/internal/models"
)

// nodePrompt asks the service to describe one screen image as strict JSON.
// Any id the service suggests is ignored; ids are always positional.
func nodePrompt(filename string) string {
	return fmt.Sprintf(`You are analyzing one screen of a user interface captured as an image.

The screen was exported from the file %q.

## Task
Describe this screen for a navigation graph of the application.

## Response Format
Respond with ONLY a JSON object (no markdown code blocks, no additional text):
{
  "name": "<short screen title, a few words>",
  "description": "<what the screen shows and what a user can do on it>"
}`, filename)
}

// edgePrompt presents one screen plus every candidate destination and asks
// for the navigation actions leading out of it, as strict JSON.
func edgePrompt(node models.ScreenNode, candidates []models.ScreenNode) string {
	var sb strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&sb, "- id %d: %s — %s\n", c.ID, c.Name, c.Description)
	}

	return fmt.Sprintf(`You are inferring navigation edges for a screen graph of a user interface.

## Current Screen
id: %d
name: %s
description: %s

## Candidate Destination Screens
%s
## Task
List the navigation actions a user can take on the current screen that lead to
one of the candidate screens. Only use destination ids from the candidate list.
Omit actions whose destination is not listed.

## Response Format
Respond with ONLY a JSON object (no markdown code blocks, no additional text):
{
  "edges": [
    {
      "source": %d,
      "destination": <candidate id>,
      "action_key": "<short_snake_case_key>",
      "action_description": "<what the user does, e.g. 'tap the settings icon'>",
      "confidence": <float between 0.0 and 1.0>
    }
  ]
}`, node.ID, node.Name, node.Description, sb.String(), node.ID)
}
