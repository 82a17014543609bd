package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/marcelsud/webhook-guard/config"
	"github.com/marcelsud/webhook-guard/dispatch"
	"github.com/marcelsud/webhook-guard/usage"
	usageredis "github.com/marcelsud/webhook-guard/usage/redis"
	"github.com/marcelsud/webhook-guard/webhook"
	"github.com/marcelsud/webhook-guard/webhook/signature"
	"github.com/spf13/cobra"
)

// printRecorder prints every attempt of a send as it happens
type printRecorder struct {
	out io.Writer
}

func (p printRecorder) Record(a webhook.Attempt) {
	status := "ok"
	if !a.Success {
		status = a.ErrorKind.String()
	}
	fmt.Fprintf(p.out, "attempt %d: status=%d result=%s duration=%dms final=%t\n",
		a.RetryIndex+1, a.HTTPStatus, status, a.Duration.Milliseconds(), a.Final)
}

func sendCmd() *cobra.Command {
	var (
		data      string
		eventID   string
		retries   int
		baseDelay time.Duration
		timeout   time.Duration
		bearer    string
		secret    string
		source    string
	)

	cmd := &cobra.Command{
		Use:   "send <url>",
		Short: "Send a test event through the dispatcher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(data)) {
				return errors.New("--data must be valid JSON")
			}

			out := cmd.OutOrStdout()
			d := dispatch.New(dispatch.Config{Recorder: printRecorder{out: out}})
			opts := []dispatch.Option{
				dispatch.WithMaxRetries(retries),
				dispatch.WithBaseDelay(baseDelay),
				dispatch.WithTimeout(timeout),
			}
			if eventID != "" {
				opts = append(opts, dispatch.WithEventID(eventID))
			}
			if bearer != "" {
				opts = append(opts, dispatch.WithBearerToken(bearer))
			}
			if secret != "" {
				opts = append(opts, dispatch.WithSigningSecret(secret))
			}
			if source != "" {
				opts = append(opts, dispatch.WithSource(source))
			}

			res, err := d.Send(cmd.Context(), args[0], json.RawMessage(data), opts...)
			if err != nil {
				if de, ok := webhook.AsDeliveryError(err); ok {
					fmt.Fprintf(out, "failed: kind=%s status=%d attempts=%d key=%s\n", de.Kind, de.StatusCode, de.Attempts, de.IdempotencyKey)
				}
				return err
			}

			fmt.Fprintf(out, "delivered: status=%d attempts=%d key=%s duration=%s\n", res.StatusCode, res.Attempts, res.IdempotencyKey, res.Duration)
			if len(res.Body) > 0 {
				fmt.Fprintf(out, "%s\n", res.Body)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&data, "data", `{"type":"dispatch.test"}`, "JSON body")
	cmd.Flags().StringVar(&eventID, "event-id", "", "event id used to derive the idempotency key")
	cmd.Flags().IntVar(&retries, "retries", dispatch.DefaultMaxRetries, "max retries after the first attempt")
	cmd.Flags().DurationVar(&baseDelay, "base-delay", dispatch.DefaultBaseDelay, "backoff base delay")
	cmd.Flags().DurationVar(&timeout, "timeout", dispatch.DefaultTimeout, "per-attempt timeout")
	cmd.Flags().StringVar(&bearer, "bearer", "", "bearer token")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret for X-Hub-Signature-256")
	cmd.Flags().StringVar(&source, "source", "", "X-Webhook-Source value")
	return cmd
}

func openRepository() (*usageredis.Repository, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	return usageredis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}

func instanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Manage WhatsApp instances",
	}

	var in usage.Instance
	register := &cobra.Command{
		Use:   "register",
		Short: "Register or update an instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository()
			if err != nil {
				return err
			}
			defer repo.Close(context.Background())

			if err := usage.NewService(repo).RegisterInstance(cmd.Context(), in); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered instance %s\n", in.ID)
			return nil
		},
	}
	register.Flags().StringVar(&in.ID, "id", "", "instance id")
	register.Flags().StringVar(&in.UserID, "user", "", "owner user id")
	register.Flags().StringVar(&in.Name, "name", "", "display name")
	register.Flags().StringVar(&in.PhoneNumber, "phone", "", "phone number")
	register.Flags().StringVar(&in.Status, "status", "connected", "connection status")
	register.MarkFlagRequired("id")
	register.MarkFlagRequired("user")

	cmd.AddCommand(register)
	return cmd
}

func statsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "stats <instance-id>",
		Short: "Show recent usage stats of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository()
			if err != nil {
				return err
			}
			defer repo.Close(context.Background())

			stats, total, err := usage.NewService(repo).RecentStats(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			daily, err := repo.DailyCounts(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"instance_id": args[0],
				"total":       total,
				"daily":       daily,
				"recent":      stats,
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of recent stats")
	return cmd
}

func genSecretCmd() *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "gen-secret",
		Short: "Generate a random signing secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := signature.GenerateSecret(size)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "bytes", 32, "secret size in bytes")
	return cmd
}

func signCmd() *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "sign [file]",
		Short: "Print the X-Hub-Signature-256 header of a body (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("--secret is required")
			}
			body, err := readBody(cmd, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", signature.HeaderName, signature.Sign([]byte(secret), body))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "shared secret")
	return cmd
}

func verifyCmd() *cobra.Command {
	var secret, header string

	cmd := &cobra.Command{
		Use:   "verify [file]",
		Short: "Check an X-Hub-Signature-256 value against a body (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd, args)
			if err != nil {
				return err
			}
			ok, err := signature.Verify([]byte(secret), body, header)
			if err != nil {
				return fmt.Errorf("verifying signature: %w", err)
			}
			if !ok {
				return errors.New("signature does not match")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signature OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "shared secret")
	cmd.Flags().StringVar(&header, "signature", "", "header value, sha256=<hex>")
	return cmd
}

func readBody(cmd *cobra.Command, args []string) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	if len(args) == 1 {
		body, err = os.ReadFile(args[0])
	} else {
		body, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}
