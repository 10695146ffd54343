package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/anungis437/nzila-automation-sub010/pkg/client"
)

var remoteFormat string

func newClient() (*client.Client, error) {
	if authToken == "" {
		return nil, errors.New("no token: pass --token or set NZILA_TOKEN")
	}
	return client.New(serverURL, client.WithBearerToken(authToken))
}

// ── state ────────────────────────────────────────────────────────────────────

var stateCmd = &cobra.Command{
	Use:   "state <entity-type> <id>",
	Short: "Show a resource's current state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		r, err := c.GetResource(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if remoteFormat == "json" {
			return printJSON(out, r)
		}
		fmt.Fprintf(out, "Resource: %s/%s\n", r.EntityType, r.ID)
		fmt.Fprintf(out, "Entity:   %s\n", r.ResourceEntityID)
		fmt.Fprintf(out, "State:    %s\n", r.State)
		fmt.Fprintf(out, "Version:  %d\n", r.Version)
		return nil
	},
}

// ── available ────────────────────────────────────────────────────────────────

var availableCmd = &cobra.Command{
	Use:   "available <entity-type> <id>",
	Short: "List transitions the caller may attempt from the current state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		av, err := c.AvailableTransitions(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if remoteFormat == "json" {
			return printJSON(cmd.OutOrStdout(), av)
		}
		return printAvailable(cmd.OutOrStdout(), av)
	},
}

func printAvailable(w io.Writer, av *client.Available) error {
	fmt.Fprintf(w, "State: %s (version %d)\n", av.State, av.Version)
	if len(av.Transitions) == 0 {
		_, err := fmt.Fprintln(w, "No transitions available.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tTO\tEVIDENCE")
	for _, t := range av.Transitions {
		ev := "no"
		if t.EvidenceRequired {
			ev = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Label, t.To, ev)
	}
	return tw.Flush()
}

// ── transition ───────────────────────────────────────────────────────────────

var (
	transitionPayload   string
	transitionArtifacts []string
)

var transitionCmd = &cobra.Command{
	Use:   "transition <entity-type> <id> <target-state>",
	Short: "Attempt a transition on a resource",
	Long: `Transition asks lifecycled to move the resource to target-state.

Payload is a JSON object (or @file). Artifacts are name=sha256 pairs and are
sealed into the evidence pack when the edge requires evidence:

  nzila transition payout p-1 approved --payload '{"amount": 120}'
  nzila transition payout p-1 settled --artifact bank-receipt=3a7b...`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildTransitionRequest(args[2], transitionPayload, transitionArtifacts)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.ApplyTransition(cmd.Context(), args[0], args[1], req)
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Committed && res != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: transition committed but post-commit step failed: %s\n", apiErr.Message)
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return &exitError{code: 1, err: err}
			}
			return err
		}
		out := cmd.OutOrStdout()
		if remoteFormat == "json" {
			return printJSON(out, res)
		}
		fmt.Fprintf(out, "Transition: %s -> %s (%s)\n", res.Result.From, res.Result.To, res.Result.Label)
		fmt.Fprintf(out, "Version:    %d\n", res.Resource.Version)
		if res.Audit != nil {
			fmt.Fprintf(out, "Audit:      #%d %s\n", res.Audit.Index, res.Audit.Hash)
		}
		if len(res.Seal) > 0 {
			fmt.Fprintln(out, "Evidence:   sealed")
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{stateCmd, availableCmd, transitionCmd} {
		c.Flags().StringVar(&remoteFormat, "format", "text", "Output format: text or json")
	}
	transitionCmd.Flags().StringVar(&transitionPayload, "payload", "", "JSON payload object, or @path to read it from a file")
	transitionCmd.Flags().StringArrayVar(&transitionArtifacts, "artifact", nil, "artifact as name=sha256 (repeatable)")
}

func buildTransitionRequest(target, payload string, artifacts []string) (client.TransitionRequest, error) {
	req := client.TransitionRequest{Target: target}
	if payload != "" {
		raw := []byte(payload)
		if strings.HasPrefix(payload, "@") {
			b, err := os.ReadFile(payload[1:])
			if err != nil {
				return req, fmt.Errorf("read payload: %w", err)
			}
			raw = b
		}
		if err := json.Unmarshal(raw, &req.Payload); err != nil {
			return req, fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}
	for _, a := range artifacts {
		name, sum, ok := strings.Cut(a, "=")
		if !ok || name == "" || sum == "" {
			return req, fmt.Errorf("invalid artifact %q: want name=sha256", a)
		}
		req.Artifacts = append(req.Artifacts, client.Artifact{Name: name, Category: "transition", SHA256: sum})
	}
	return req, nil
}
