// Package main 是 companion 命令行客户端的入口。
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"companion-go/internal/client/chat"
	"companion-go/internal/client/guard"
	"companion-go/internal/client/profile"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "companion",
		Short:         "Fertility companion command-line client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("COMPANION_CLIENT_CONFIG"), "client config file (optional)")

	root.AddCommand(newSignUpCmd(&configPath))
	root.AddCommand(newLoginCmd(&configPath))
	root.AddCommand(newLoginAnonCmd(&configPath))
	root.AddCommand(newLoginGoogleCmd(&configPath))
	root.AddCommand(newUpgradeCmd(&configPath))
	root.AddCommand(newLogoutCmd(&configPath))
	root.AddCommand(newWhoAmICmd(&configPath))
	root.AddCommand(newNavigateCmd(&configPath))
	root.AddCommand(newOnboardCmd(&configPath))
	root.AddCommand(newChatCmd(&configPath))
	return root
}

// withApp 加载客户端组件执行 fn，结束后释放。
func withApp(cmd *cobra.Command, configPath string, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, configPath, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newSignUpCmd(configPath *string) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an email account and sign in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				return a.store.SignUp(ctx, email, password)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginCmd(configPath *string) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				return a.store.SignInWithPassword(ctx, email, password)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginAnonCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login-anon",
		Short: "Start an anonymous session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				return a.store.SignInAnonymously(ctx)
			})
		},
	}
}

func newLoginGoogleCmd(configPath *string) *cobra.Command {
	var idToken string
	cmd := &cobra.Command{
		Use:   "login-google",
		Short: "Sign in with a Google ID token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				return a.store.SignInWithOAuth(ctx, "google", idToken)
			})
		},
	}
	cmd.Flags().StringVar(&idToken, "id-token", "", "Google ID token")
	_ = cmd.MarkFlagRequired("id-token")
	return cmd
}

func newUpgradeCmd(configPath *string) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Attach an email and password to the current (anonymous) account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				s, err := a.remote.UpdateUser(ctx, &email, &password)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "account %s is now %s\n", s.UserID, s.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out of the current session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				if a.store.Current().Identity == nil {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "not signed in")
					return nil
				}
				return a.store.SignOut(ctx)
			})
		},
	}
}

func newWhoAmICmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current identity and profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				id := a.store.Current().Identity
				if id == nil {
					_, _ = fmt.Fprintln(out, "not signed in")
					return nil
				}
				_, _ = fmt.Fprintf(out, "user:       %s\n", id.UserID)
				if id.Email != "" {
					_, _ = fmt.Fprintf(out, "email:      %s\n", id.Email)
				}
				_, _ = fmt.Fprintf(out, "anonymous:  %v\n", id.IsAnonymous)

				p, err := a.profiles.Get(ctx, id.UserID)
				if err != nil {
					// 资料读取失败不影响身份展示
					_, _ = fmt.Fprintf(out, "profile:    unavailable (%v)\n", err)
					return nil
				}
				if p == nil {
					_, _ = fmt.Fprintln(out, "profile:    not created yet")
					return nil
				}
				_, _ = fmt.Fprintf(out, "name:       %s\n", p.Name)
				if p.Birthdate != nil {
					_, _ = fmt.Fprintf(out, "birthdate:  %s\n", p.Birthdate)
				}
				_, _ = fmt.Fprintf(out, "onboarded:  %v\n", p.OnboardingCompleted)
				if len(p.Goals) > 0 {
					_, _ = fmt.Fprintf(out, "goals:      %s\n", strings.Join(p.Goals, ", "))
				}
				return nil
			})
		},
	}
}

func newNavigateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "navigate <route>",
		Short: "Print the route guard decision for a protected route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), formatDecision(a.guard.Navigate(ctx, args[0])))
				return nil
			})
		},
	}
}

func newOnboardCmd(configPath *string) *cobra.Command {
	var in onboardingInput
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Submit onboarding answers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				id := a.store.Current().Identity
				if id == nil {
					return errors.New("not signed in")
				}
				p, err := in.profile(id.UserID)
				if err != nil {
					return err
				}
				saved, err := a.guard.CompleteOnboarding(ctx, p)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "onboarding complete for %s\n", saved.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Birthdate, "birthdate", "", "birthdate (YYYY-MM-DD)")
	cmd.Flags().StringVar(&in.Gender, "gender", "", "gender (use 'other' with --gender-detail for other categories)")
	cmd.Flags().StringVar(&in.GenderDetail, "gender-detail", "", "gender detail when --gender=other")
	cmd.Flags().StringSliceVar(&in.Goals, "goals", nil, "goals, comma separated")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newChatCmd(configPath *string) *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the companion (type /quit to leave)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				return runChat(ctx, cmd, a, conversationID)
			})
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id (defaults to the most recent)")
	return cmd
}

func runChat(ctx context.Context, cmd *cobra.Command, a *app, conversationID string) error {
	out := cmd.OutOrStdout()
	d := a.guard.Navigate(ctx, "/chat")
	if d.Action != guard.Render {
		_, _ = fmt.Fprintln(out, formatDecision(d))
		return nil
	}
	id := a.store.Current().Identity
	if id == nil {
		return errors.New("not signed in")
	}
	userID := id.UserID

	first, err := chat.FirstVisit(a.state)
	if err != nil {
		_, _ = fmt.Fprintf(out, "warning: %v\n", err)
	}
	if first {
		_, _ = fmt.Fprintln(out, "Welcome! Ask anything about your cycle, fertility or treatment options.")
		if err := a.profiles.MarkWelcomeSeen(ctx, userID); err != nil && !errors.Is(err, profile.ErrUnauthorized) {
			_, _ = fmt.Fprintf(out, "warning: %v\n", err)
		}
	}

	cs := chat.New(a.remote, a.store, conversationID)
	defer cs.Close()
	loadCtx, cancel := timeout(ctx, a.cfg.RequestTimeout)
	if err := cs.Load(loadCtx); err != nil {
		_, _ = fmt.Fprintf(out, "could not load history: %v\n", err)
	}
	cancel()
	for _, m := range cs.Messages() {
		_, _ = fmt.Fprintf(out, "%s> %s\n", m.Sender, m.Content)
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		_, _ = fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "/quit" {
			return nil
		}
		reply, err := cs.Send(ctx, line)
		switch {
		case err != nil:
			_, _ = fmt.Fprintf(out, "(no reply: %v)\n", err)
		case reply != nil:
			_, _ = fmt.Fprintf(out, "ai> %s\n", reply.Content)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
