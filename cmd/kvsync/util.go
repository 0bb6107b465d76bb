package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/suyash-sneo/kvsync"
	"github.com/suyash-sneo/kvsync/serializer"
)

const wrap = 50

// wrapString wraps help text at wrap characters.
func wrapString(text string) string {
	var lines []string
	var line strings.Builder
	width := 0
	for _, word := range strings.Fields(text) {
		if width > 0 && width+1+len(word) > wrap {
			lines = append(lines, line.String())
			line.Reset()
			width = 0
		}
		if width > 0 {
			line.WriteString(" ")
			width++
		}
		line.WriteString(word)
		width += len(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// parseValue decodes text with codec, falling back to the text itself.
func parseValue(codec serializer.Serializer, text string) any {
	var v any
	if err := codec.Decode(text, &v); err != nil {
		return text
	}
	return v
}

// formatValue renders v in codec's text form.
func formatValue(codec serializer.Serializer, v any) string {
	raw, err := codec.Encode(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimRight(raw, "\n")
}

func watchLoop(ctx context.Context, cmd *cobra.Command, view *kvsync.View[any], codec serializer.Serializer, changed <-chan struct{}) error {
	show := func() error {
		st, err := view.Evaluate(ctx)
		if err != nil {
			return err
		}
		marker := ""
		if !st.IsPersistent {
			marker = " (no entry)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s%s\n", view.Key(), formatValue(codec, st.Value), marker)
		return nil
	}
	if err := show(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if err := show(); err != nil {
				return err
			}
		}
	}
}
