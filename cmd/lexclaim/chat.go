package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/lexclaim/internal/issue"
	"github.com/ent0n29/lexclaim/internal/render"
)

const chatHelp = `Type your answer and press Enter.
Commands: /download  save the document once the conversation has ended
          /show      reprint the conversation
          /quit      leave the chat`

func createCmd(opts *rootOptions) *cobra.Command {
	var stayInChat bool
	cmd := &cobra.Command{
		Use:   "create [description]",
		Short: "File a new grievance and start the clarifying chat",
		Long: `Files a new grievance. The description is taken from the arguments,
or read from standard input when none are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			description := strings.Join(args, " ")
			if strings.TrimSpace(description) == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read description: %w", err)
				}
				description = string(data)
			}

			res, err := opts.build(cmd, true)
			if err != nil {
				return err
			}
			defer closeApp(res)

			out := cmd.OutOrStdout()
			ctrl := res.NewController(nil)
			defer ctrl.Close()

			conv, err := ctrl.CreateIssue(cmd.Context(), description)
			if err != nil {
				return fmt.Errorf("%s", render.ErrorMessage(err))
			}
			issueID := conv.IssueID
			fmt.Fprintf(out, "Issue %s created.\n", issueID)

			if kicked, err := ctrl.Kickoff(cmd.Context(), issueID); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), render.ErrorMessage(err))
			} else {
				conv = kicked
			}
			for _, t := range conv.Turns {
				render.Turn(out, t)
			}
			if !stayInChat {
				fmt.Fprintf(out, "Continue with: %s chat %s\n", appName, issueID)
				return nil
			}
			return runChat(cmd, ctrl, res.NewRetriever(ctrl), conv, cmd.InOrStdin(), out)
		},
	}
	cmd.Flags().BoolVar(&stayInChat, "chat", false, "Continue into the interactive chat (description must come from arguments)")
	return cmd
}

func chatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <issue-id>",
		Short: "Resume the clarifying chat for an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.build(cmd, true)
			if err != nil {
				return err
			}
			defer closeApp(res)

			ctrl := res.NewController(nil)
			defer ctrl.Close()

			conv, err := ctrl.ResumeConversation(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s", render.ErrorMessage(err))
			}
			render.Conversation(cmd.OutOrStdout(), conv)
			return runChat(cmd, ctrl, res.NewRetriever(ctrl), conv, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

type documentDownloader interface {
	Download(ctx context.Context, issueID string) (string, error)
}

func runChat(cmd *cobra.Command, ctrl *issue.Controller, retriever documentDownloader, conv issue.Conversation, in io.Reader, out io.Writer) error {
	ctx := cmd.Context()
	fmt.Fprintln(out, chatHelp)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n"+render.Prompt(conv))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch strings.ToLower(line) {
		case "/quit", "/exit":
			return nil
		case "/show":
			render.Conversation(out, conv)
			continue
		case "/download":
			path, err := retriever.Download(ctx, conv.IssueID)
			if err != nil {
				fmt.Fprintln(out, render.ErrorMessage(err))
				continue
			}
			fmt.Fprintf(out, "Saved to %s\n", path)
			continue
		}

		before := len(conv.Turns)
		next, err := ctrl.SendTurn(ctx, conv.IssueID, line)
		if next.IssueID != "" {
			conv = next
		}
		if err != nil && len(conv.Turns) == before {
			// Rejected before anything was appended.
			fmt.Fprintln(out, render.ErrorMessage(err))
			continue
		}
		// The echoed user turn is already on screen.
		for _, t := range conv.Turns[min(before+1, len(conv.Turns)):] {
			render.Turn(out, t)
		}
		render.Status(out, conv)
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}
