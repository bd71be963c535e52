package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/apaas-client/pkg/client"
	"github.com/spf13/cobra"
)

func (a *app) newQueryCommand() *cobra.Command {
	var (
		filter   string
		fields   string
		orderBy  string
		pageSize int
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "query OBJECT",
		Short: "Query records of an object",
		Example: `  apaasctl query task --filter '{"status":"open"}' --all
  apaasctl query task --select name,owner --order-by -created_at -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := client.Query{PageSize: pageSize, Select: splitList(fields)}
			if filter != "" {
				if err := json.Unmarshal([]byte(filter), &q.Filter); err != nil {
					return fmt.Errorf("invalid --filter: %w", err)
				}
			}
			for _, f := range splitList(orderBy) {
				dir := "asc"
				if strings.HasPrefix(f, "-") {
					f, dir = f[1:], "desc"
				}
				q.OrderBy = append(q.OrderBy, client.OrderBy{Field: f, Direction: dir})
			}

			c, release, err := a.newClient()
			if err != nil {
				return err
			}
			defer release()

			ctx := cmd.Context()
			if all {
				res, err := c.Read().QueryAll(ctx, args[0], q)
				if err != nil {
					return err
				}
				return renderRecords(cmd.OutOrStdout(), a.format(), res.Items, res.Total)
			}

			q.NeedTotalCount = true
			page, err := c.Read().Query(ctx, args[0], q)
			if err != nil {
				return err
			}
			if err := renderRecords(cmd.OutOrStdout(), a.format(), page.Items, page.Total); err != nil {
				return err
			}
			if page.NextPageToken != "" && a.format() == OutputFormatTable {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "More records available. Use --all to fetch all pages.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "filter expression as JSON")
	cmd.Flags().StringVar(&fields, "select", "", "comma separated fields to return")
	cmd.Flags().StringVar(&orderBy, "order-by", "", "comma separated sort fields, prefix with - for descending")
	cmd.Flags().IntVar(&pageSize, "page-size", client.DefaultPageSize, "records per page")
	cmd.Flags().BoolVar(&all, "all", false, "follow page tokens until all records are read")

	return cmd
}

func (a *app) newGetCommand() *cobra.Command {
	var fields string

	cmd := &cobra.Command{
		Use:   "get OBJECT ID",
		Short: "Read one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := a.newClient()
			if err != nil {
				return err
			}
			defer release()

			rec, err := c.Read().Get(cmd.Context(), args[0], args[1], splitList(fields))
			if err != nil {
				return err
			}
			return renderRecords(cmd.OutOrStdout(), a.format(), []client.Record{rec}, -1)
		},
	}

	cmd.Flags().StringVar(&fields, "select", "", "comma separated fields to return")
	return cmd
}

func (a *app) newCreateCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create OBJECT",
		Short: "Create records from a JSON object or array",
		Long: `Create records from a JSON file. A JSON object creates one record, an array
creates all of them in chunks of 100. Use --file - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, single, err := readRecords(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			c, release, err := a.newClient()
			if err != nil {
				return err
			}
			defer release()

			var created []client.Record
			if single {
				rec, err := c.Write().Create(cmd.Context(), args[0], records[0])
				if err != nil {
					return err
				}
				created = []client.Record{rec}
			} else {
				created, err = c.Write().CreateAll(cmd.Context(), args[0], records)
				if err != nil {
					return err
				}
			}
			return renderRecords(cmd.OutOrStdout(), a.format(), created, -1)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with a record or an array of records (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) newUpdateCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "update OBJECT",
		Short: "Update records from a JSON array; every record needs an _id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, _, err := readRecords(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			for i, rec := range records {
				if id, _ := rec["_id"].(string); id == "" {
					return fmt.Errorf("record %d: %w", i, client.ErrMissingID)
				}
			}

			c, release, err := a.newClient()
			if err != nil {
				return err
			}
			defer release()

			results, err := c.Write().UpdateAll(cmd.Context(), args[0], records)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated %d record(s) in %d request(s)\n", len(records), len(results))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with the records (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete OBJECT ID...",
		Short: "Delete records by id",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := a.newClient()
			if err != nil {
				return err
			}
			defer release()

			object, ids := args[0], args[1:]
			if len(ids) == 1 {
				err = c.Delete().Delete(cmd.Context(), object, ids[0])
			} else {
				_, err = c.Delete().DeleteAll(cmd.Context(), object, ids)
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d record(s)\n", len(ids))
			return nil
		},
	}
}

func (a *app) newMetaCommand() *cobra.Command {
	var invalidate bool

	cmd := &cobra.Command{
		Use:   "meta OBJECT [FIELD]",
		Short: "Show object or field metadata",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := a.newClient()
			if err != nil {
				return err
			}
			defer release()

			ctx := cmd.Context()
			if invalidate {
				if err := c.Metadata().Invalidate(ctx, args[0]); err != nil {
					return err
				}
			}

			var raw json.RawMessage
			if len(args) == 2 {
				raw, err = c.Metadata().Field(ctx, args[0], args[1])
			} else {
				raw, err = c.Metadata().Object(ctx, args[0])
			}
			if err != nil {
				return err
			}
			return renderDocument(cmd.OutOrStdout(), a.format(), raw)
		},
	}

	cmd.Flags().BoolVar(&invalidate, "refresh", false, "drop cached metadata of the object first")
	return cmd
}

func (a *app) newDepartmentsCommand() *cobra.Command {
	var idType string

	cmd := &cobra.Command{
		Use:   "departments ID...",
		Short: "Map department ids between id spaces",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := a.newClient()
			if err != nil {
				return err
			}
			defer release()

			deps, err := c.Departments().Exchange(cmd.Context(), idType, args)
			if err != nil {
				return err
			}
			return renderRecords(cmd.OutOrStdout(), a.format(), deps, -1)
		},
	}

	cmd.Flags().StringVar(&idType, "id-type", client.DepartmentIDTypeExternal, "id space of the given ids")
	return cmd
}

func (a *app) newInvokeCommand() *cobra.Command {
	var params string

	cmd := &cobra.Command{
		Use:   "invoke FUNCTION",
		Short: "Invoke a cloud function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p any
			if params != "" {
				if err := json.Unmarshal([]byte(params), &p); err != nil {
					return fmt.Errorf("invalid --params: %w", err)
				}
			}

			c, release, err := a.newClient()
			if err != nil {
				return err
			}
			defer release()

			raw, err := c.Functions().Invoke(cmd.Context(), args[0], p)
			if err != nil {
				return err
			}
			return renderDocument(cmd.OutOrStdout(), a.format(), raw)
		},
	}

	cmd.Flags().StringVar(&params, "params", "", "function parameters as JSON")
	return cmd
}

func (a *app) newTokenCommand() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Exchange credentials and show the token validity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := a.newClient()
			if err != nil {
				return err
			}
			defer release()

			if err := c.Init(cmd.Context()); err != nil {
				return err
			}

			token := c.AccessToken()
			if !reveal {
				token = maskToken(token)
			}
			remaining := c.TokenRemaining().Round(time.Second)

			info := map[string]any{
				"access_token": token,
				"expires_in":   remaining.String(),
				"expires_at":   time.Now().Add(remaining).Format(time.RFC3339),
			}
			raw, err := json.Marshal(info)
			if err != nil {
				return err
			}
			return renderDocument(cmd.OutOrStdout(), a.format(), raw)
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the full token")
	return cmd
}

// readRecords reads a JSON object or array of objects from path, or from in
// when path is "-". single reports whether the input was one object.
func readRecords(in io.Reader, path string) (records []client.Record, single bool, err error) {
	var data []byte
	if path == "-" {
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, false, fmt.Errorf("read records: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var rec client.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, false, fmt.Errorf("parse record: %w", err)
		}
		return []client.Record{rec}, true, nil
	}

	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, fmt.Errorf("parse records: %w", err)
	}
	if len(records) == 0 {
		return nil, false, fmt.Errorf("no records in input")
	}
	return records, false, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "***" + token[len(token)-4:]
}
