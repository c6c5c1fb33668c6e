package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"go.pilab.hu/socialcore/config"
	"go.pilab.hu/socialcore/internal/app"
	"go.pilab.hu/socialcore/log"
	"go.pilab.hu/socialcore/tracing"
)

const AppName = "socialctl"

// runtime is the state shared by the subcommands of one invocation.
type runtime struct {
	cfgFile string
	app     *app.App
	tp      *sdktrace.TracerProvider
}

// NewRootCommand builds the socialctl command tree.
func NewRootCommand() *cobra.Command {
	rt := &runtime{}

	root := &cobra.Command{
		Use:   AppName,
		Short: "socialctl drives the session core from the command line",
		Long: `socialctl signs users up and in, resets passwords and shows the current session.

Accounts and the session survive between invocations with SOCIAL_STORE_DRIVER=bolt
(a local file at SOCIAL_BOLT_PATH) or mongodb. The session moves to Redis when
SOCIAL_REDIS_ADDR is set. With the in-memory default nothing is kept.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.start(cmd)
		},
	}

	root.PersistentFlags().StringVar(&rt.cfgFile, "config", "",
		"config file (default is ./socialcore.yaml, $HOME/.socialcore/socialcore.yaml or /etc/socialcore/socialcore.yaml)")

	root.AddCommand(
		newSignUpCommand(rt),
		newSignInCommand(rt),
		newGoogleCommand(rt),
		newLogoutCommand(rt),
		newWhoAmICommand(rt),
		newResetPasswordCommand(rt),
		newConfirmResetCommand(rt),
	)
	return root
}

func (rt *runtime) start(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
		cmd.SetContext(ctx)
	}

	cfg, err := config.LoadConfig(rt.cfgFile)
	if err != nil {
		return err
	}

	logger := log.NewZerologAdapter(log.ParseLevel(cfg.LogLevel), cfg.LogPretty)

	if cfg.TracingEnabled {
		if rt.tp, err = tracing.InitTracerProvider(cfg.OtelServiceName+"-ctl", cmd.ErrOrStderr()); err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
	}

	rt.app, err = app.New(ctx, cfg, logger, app.Options{
		OpenURL:     consentPrinter(cmd.ErrOrStderr()),
		AuditWriter: io.Discard,
	})
	if err != nil {
		return err
	}

	select {
	case <-rt.app.Sessions.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// wrap releases the runtime once the command body returns, whatever the outcome.
func (rt *runtime) wrap(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer rt.stop(cmd.Context())
		return fn(cmd, args)
	}
}

func (rt *runtime) stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if rt.app != nil {
		rt.app.Close(ctx)
		rt.app = nil
	}
	tracing.Shutdown(ctx, rt.tp)
	rt.tp = nil
}

func consentPrinter(w io.Writer) func(context.Context, string) error {
	return func(_ context.Context, url string) error {
		_, err := fmt.Fprintf(w, "Open this URL in your browser to continue:\n\n  %s\n\n", url)
		return err
	}
}
