package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ent0n29/lexclaim/internal/account"
	"github.com/ent0n29/lexclaim/internal/apiclient"
	"github.com/ent0n29/lexclaim/internal/render"
)

func downloadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "download <issue-id>",
		Short: "Save the generated document of a finished issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.build(cmd, true)
			if err != nil {
				return err
			}
			defer closeApp(res)

			ctrl := res.NewController(nil)
			defer ctrl.Close()
			if _, err := ctrl.ResumeConversation(cmd.Context(), args[0]); err != nil {
				return errors.New(render.ErrorMessage(err))
			}
			path, err := res.NewRetriever(ctrl).Download(cmd.Context(), args[0])
			if err != nil {
				return errors.New(render.ErrorMessage(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved to %s\n", path)
			return nil
		},
	}
}

func loginCmd(opts *rootOptions) *cobra.Command {
	var callbackURL, token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with the identity provider",
		Long: `Without flags, prints the sign-in address. Open it in a browser; when the
browser lands on the callback page, pass that full address with --callback-url.
Alternatively run "lexclaim serve" and sign in from the local UI.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.build(cmd, true)
			if err != nil {
				return err
			}
			defer closeApp(res)

			out := cmd.OutOrStdout()
			switch {
			case callbackURL != "":
				if _, err := res.Auth.CompleteURL(cmd.Context(), callbackURL); err != nil {
					return errors.New(render.ErrorMessage(err))
				}
			case token != "":
				if _, err := res.Auth.UseToken(cmd.Context(), token); err != nil {
					return errors.New(render.ErrorMessage(err))
				}
			default:
				fmt.Fprintf(out, "Open this address to sign in:\n  %s\n", res.Auth.SignInURL())
				return nil
			}
			render.Session(out, res.Auth.Current(cmd.Context()))
			return nil
		},
	}
	cmd.Flags().StringVar(&callbackURL, "callback-url", "", "Callback address the browser was redirected to")
	cmd.Flags().StringVar(&token, "token", "", "Access token to verify and store")
	return cmd
}

func logoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.build(cmd, true)
			if err != nil {
				return err
			}
			defer closeApp(res)

			if err := res.Auth.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func whoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.build(cmd, true)
			if err != nil {
				return err
			}
			defer closeApp(res)
			render.Session(cmd.OutOrStdout(), res.Auth.Current(cmd.Context()))
			return nil
		},
	}
}

func profileCmd(opts *rootOptions) *cobra.Command {
	var firstName, lastName, phone string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update the signed-in user's profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.build(cmd, true)
			if err != nil {
				return err
			}
			defer closeApp(res)

			var update apiclient.ProfileUpdate
			flags := cmd.Flags()
			if flags.Changed("first-name") {
				update.FirstName = &firstName
			}
			if flags.Changed("last-name") {
				update.LastName = &lastName
			}
			if flags.Changed("phone") {
				update.Phone = &phone
			}
			changed := update.FirstName != nil || update.LastName != nil || update.Phone != nil

			var p apiclient.Profile
			if changed {
				p, err = res.Account.UpdateProfile(cmd.Context(), update)
			} else {
				p, err = res.Account.Profile(cmd.Context())
			}
			if err != nil {
				return errors.New(render.ErrorMessage(err))
			}
			render.Profile(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().StringVar(&firstName, "first-name", "", "New first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "New last name")
	cmd.Flags().StringVar(&phone, "phone", "", "New phone number")
	return cmd
}

func documentsCmd(opts *rootOptions) *cobra.Command {
	var downloadID string
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "List your documents, or download a completed one",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.build(cmd, true)
			if err != nil {
				return err
			}
			defer closeApp(res)

			docs, err := res.Account.Documents(cmd.Context())
			if err != nil {
				return errors.New(render.ErrorMessage(err))
			}
			out := cmd.OutOrStdout()
			if downloadID == "" {
				render.Documents(out, docs, account.Summarize(docs))
				return nil
			}

			for _, d := range docs {
				if d.IssueID != downloadID {
					continue
				}
				ctrl := res.NewController(nil)
				defer ctrl.Close()
				path, err := res.NewRetriever(ctrl).DownloadCompleted(cmd.Context(), d)
				if err != nil {
					return errors.New(render.ErrorMessage(err))
				}
				fmt.Fprintf(out, "Saved to %s\n", path)
				return nil
			}
			return fmt.Errorf("no document for issue %s", downloadID)
		},
	}
	cmd.Flags().StringVar(&downloadID, "download", "", "Issue id of a completed document to save")
	return cmd
}

func historyCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <issue-id>",
		Short: "Print the locally archived turns of an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.build(cmd, true)
			if err != nil {
				return err
			}
			defer closeApp(res)

			records, err := res.Transcript.Turns(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			render.Transcript(cmd.OutOrStdout(), args[0], records)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Show only the newest n turns")
	return cmd
}
