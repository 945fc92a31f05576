package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/DFUChat/internal/chat"
)

// version is set at build time with -ldflags "-X .../internal/cli.version=...".
var version = "dev"

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "dfuchat",
		Short: "DFUChat - diabetic foot ulcer assistant",
		Long: `DFUChat talks to the DFU assistant backend. Without an account it runs a
guest conversation that lives only on the server; after "dfuchat login" chats
are saved to your account and can be listed, reopened and exported.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context(), opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&opts.backendURL, "backend", "", "Backend URL (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to stderr")
	rootCmd.PersistentFlags().BoolVar(&opts.plain, "plain", false, "Print replies without markdown rendering")

	rootCmd.AddCommand(newLoginCmd(opts))
	rootCmd.AddCommand(newLogoutCmd(opts))
	rootCmd.AddCommand(newRegisterCmd(opts))
	rootCmd.AddCommand(newWhoamiCmd(opts))
	rootCmd.AddCommand(newSendCmd(opts))
	rootCmd.AddCommand(newUploadCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))
	rootCmd.AddCommand(newOpenCmd(opts))
	rootCmd.AddCommand(newNewCmd(opts))
	rootCmd.AddCommand(newDeleteCmd(opts))
	rootCmd.AddCommand(newExportCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// withApp runs fn with a wired app and closes it afterwards.
func withApp(ctx context.Context, opts *globalOptions, fn func(*app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// withChat additionally starts an orchestrator. A failed initial acquisition
// is logged but does not stop fn; sends retry it.
func withChat(ctx context.Context, opts *globalOptions, fn func(*app, *chat.Orchestrator) error) error {
	return withApp(ctx, opts, func(a *app) error {
		orch, err := a.newOrchestrator(ctx)
		if orch == nil {
			return err
		}
		defer orch.Close()
		if err != nil {
			a.log.Warn("cli", "initial acquisition failed", map[string]any{"error": err.Error()})
		}
		return fn(a, orch)
	})
}

func runInteractive(ctx context.Context, opts *globalOptions) error {
	return withChat(ctx, opts, func(a *app, orch *chat.Orchestrator) error {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := a.cfgMgr.Watch(watchCtx, a.applyConfig); err != nil {
			a.log.Warn("cli", "config watch unavailable", map[string]any{"error": err.Error()})
		}
		return NewInteractiveSession(a, orch, os.Stdin).Start(ctx)
	})
}

func newLoginCmd(opts *globalOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in so chats are saved to your account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				email, password, err := PromptForCredentials(bufio.NewReader(os.Stdin), email)
				if err != nil {
					return err
				}
				user, err := a.auth.Login(cmd.Context(), email, password)
				if err != nil {
					return err
				}
				a.printer.Success(fmt.Sprintf("Signed in as %s <%s>", user.Name, user.Email))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	return cmd
}

func newLogoutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				if err := a.auth.Logout(cmd.Context()); err != nil {
					return err
				}
				a.printer.Success("Signed out.")
				return nil
			})
		},
	}
}

func newRegisterCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				reg, err := PromptForRegistration(bufio.NewReader(os.Stdin))
				if err != nil {
					return err
				}
				msg, err := a.auth.Register(cmd.Context(), reg.Name, reg.Email, reg.Password)
				if err != nil {
					return err
				}
				if msg == "" {
					msg = "Account created."
				}
				a.printer.Success(msg + " You can now run \"dfuchat login\".")
				return nil
			})
		},
	}
}

func newWhoamiCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				if !a.resolver.IsAccountRegime() {
					a.printer.Info("Not signed in (guest mode).")
					return nil
				}
				user, err := a.auth.Me(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("%s <%s> (id %d)\n", user.Name, user.Email, user.ID)
				return nil
			})
		},
	}
}

func newSendCmd(opts *globalOptions) *cobra.Command {
	var thread int64
	cmd := &cobra.Command{
		Use:   "send <message...>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withChat(cmd.Context(), opts, func(a *app, orch *chat.Orchestrator) error {
				if thread > 0 {
					if err := orch.SelectThread(cmd.Context(), thread); err != nil {
						return err
					}
				}
				x, err := orch.Send(text)
				if err != nil {
					return err
				}
				return printOutcome(cmd.Context(), a, orch, x)
			})
		},
	}
	cmd.Flags().Int64Var(&thread, "thread", 0, "Saved chat to send to (signed in)")
	return cmd
}

func newUploadCmd(opts *globalOptions) *cobra.Command {
	var thread int64
	cmd := &cobra.Command{
		Use:   "upload <image>",
		Short: "Upload a wound photo for severity assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := readImage(args[0])
			if err != nil {
				return err
			}
			return withChat(cmd.Context(), opts, func(a *app, orch *chat.Orchestrator) error {
				if thread > 0 {
					if err := orch.SelectThread(cmd.Context(), thread); err != nil {
						return err
					}
				}
				x, err := orch.Upload(img)
				if err != nil {
					return err
				}
				return printOutcome(cmd.Context(), a, orch, x)
			})
		},
	}
	cmd.Flags().Int64Var(&thread, "thread", 0, "Saved chat to upload to (signed in)")
	return cmd
}

func printOutcome(ctx context.Context, a *app, orch *chat.Orchestrator, x *chat.Exchange) error {
	reply, err := x.Wait(ctx)
	if reply.Content != "" {
		a.printer.Message(reply)
	}
	if n := orch.Store().Snapshot().Notice; n != "" {
		a.printer.Notice(n)
	}
	return err
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List saved chats, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withChat(cmd.Context(), opts, func(a *app, orch *chat.Orchestrator) error {
				if orch.Store().Regime() != chat.RegimeAccount {
					return errors.New("saved chats need an account; run \"dfuchat login\"")
				}
				a.printer.History(orch.Store().History(), selectedThread(orch.Store().Session()))
				return nil
			})
		},
	}
}

func newOpenCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open <id>",
		Short: "Print a saved chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseThreadID(args[0])
			if err != nil {
				return err
			}
			return withChat(cmd.Context(), opts, func(a *app, orch *chat.Orchestrator) error {
				if err := orch.SelectThread(cmd.Context(), id); err != nil {
					return err
				}
				a.printer.Transcript(orch.Store().Messages())
				return nil
			})
		},
	}
}

func newNewCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create an empty saved chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withChat(cmd.Context(), opts, func(a *app, orch *chat.Orchestrator) error {
				sess, err := orch.NewThread(cmd.Context())
				if err != nil {
					return err
				}
				a.printer.Success(fmt.Sprintf("Created chat #%d.", sess.ThreadID))
				return nil
			})
		},
	}
}

func newDeleteCmd(opts *globalOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseThreadID(args[0])
			if err != nil {
				return err
			}
			if !yes {
				ok, err := ConfirmDelete(id)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			return withChat(cmd.Context(), opts, func(a *app, orch *chat.Orchestrator) error {
				if err := orch.DeleteThread(cmd.Context(), id); err != nil {
					return err
				}
				a.printer.Success(fmt.Sprintf("Deleted chat #%d.", id))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a saved chat as JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseThreadID(args[0])
			if err != nil {
				return err
			}
			return withChat(cmd.Context(), opts, func(a *app, orch *chat.Orchestrator) error {
				if err := orch.SelectThread(cmd.Context(), id); err != nil {
					return err
				}
				doc, err := newThreadExport(orch.Store().Snapshot(), time.Now())
				if err != nil {
					return err
				}

				var w io.Writer = os.Stdout
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return writeExport(w, doc, format)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dfuchat %s\n", version)
		},
	}
}
