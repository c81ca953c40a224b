package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/virtfleet/virtfleet/pkg/api/v1/client"
)

// GetInstancesCmd returns the instances command group
func GetInstancesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Inspect and stop managed instances",
	}

	cmd.AddCommand(listInstancesCmd())
	cmd.AddCommand(getInstanceCmd())
	cmd.AddCommand(instanceHistoryCmd())
	cmd.AddCommand(instanceCountersCmd())
	cmd.AddCommand(stopInstancesCmd())

	return cmd
}

func listInstancesCmd() *cobra.Command {
	var status string
	var includeClosed bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := &client.ListOptions{Status: status, IncludeClosed: includeClosed}
			instances, err := apiClient.ListInstances(cmd.Context(), opts)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tHANDLE\tSTATUS\tSITE\tPUBLIC IP\tLAST HEARTBEAT")
			for _, i := range instances {
				heartbeat := "-"
				if i.LastHeartbeatAt != nil {
					heartbeat = i.LastHeartbeatAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					i.ID, i.Name, i.Handle, i.Status, i.SiteEndpoint(), i.PublicIP, heartbeat)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (e.g. running, stalled)")
	cmd.Flags().BoolVar(&includeClosed, "include-closed", false, "Include halted instances")
	return cmd
}

func getInstanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one instance as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstanceID(args[0])
			if err != nil {
				return err
			}
			instance, err := apiClient.GetInstance(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(instance)
		},
	}
}

func instanceHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the status audit trail of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstanceID(args[0])
			if err != nil {
				return err
			}
			entries, err := apiClient.GetInstanceHistory(cmd.Context(), id)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tFROM\tTO\tLOAD\tJOBS")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.FromStatus, e.ToStatus, e.Load, e.Jobs)
			}
			return w.Flush()
		},
	}
}

func instanceCountersCmd() *cobra.Command {
	var groupBy string

	cmd := &cobra.Command{
		Use:   "counters",
		Short: "Show instance counts grouped by a field",
		RunE: func(cmd *cobra.Command, args []string) error {
			counters, err := apiClient.GetInstanceCounters(cmd.Context(), groupBy)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VALUE\tCOUNT")
			for _, c := range counters {
				fmt.Fprintf(w, "%s\t%d\n", c.Value, c.Count)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&groupBy, "group-by", "status", "Field to group by (status, site, endpoint, image, running_pod)")
	return cmd
}

func stopInstancesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id> [id...]",
		Short: "Request a stop of the given instances",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uint, 0, len(args))
			for _, arg := range args {
				id, err := parseInstanceID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			result, err := apiClient.StopInstances(cmd.Context(), ids)
			if err != nil {
				return err
			}

			fmt.Printf("Successful: %v\n", result.Successful)
			for id, reason := range result.Failed {
				fmt.Printf("Failed %d: %s\n", id, reason)
			}
			return nil
		},
	}
}

func parseInstanceID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid instance id %q", arg)
	}
	return uint(id), nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
