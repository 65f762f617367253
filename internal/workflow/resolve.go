package workflow

import (
	"fmt"
	"strings"
)

// resolveInput builds the input for a node from its content template and
// the outputs of its upstream nodes. A `{{nodeID}}` placeholder in the
// content is replaced in place; outputs without a placeholder are appended
// under the edge's instruction line. Run variables substitute the same way
// via `{{name}}` placeholders.
func resolveInput(node *Node, incoming []Edge, outputs map[string]string, variables map[string]string) string {
	content := node.Content

	for name, value := range variables {
		content = strings.ReplaceAll(content, "{{"+name+"}}", value)
	}

	for _, edge := range incoming {
		output := outputs[edge.From]
		placeholder := "{{" + edge.From + "}}"

		if strings.Contains(content, placeholder) {
			content = strings.ReplaceAll(content, placeholder, output)
			continue
		}

		label := edge.Instruction
		if label == "" {
			label = fmt.Sprintf("Output of %s", edge.From)
		}
		content = content + "\n\n" + label + ":\n" + output
	}

	return content
}
