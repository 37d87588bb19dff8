package main

import (
	"fmt"

	"github.com/google/uuid"
	identityapp "github.com/recordlink/backend/internal/application/identity"
	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/spf13/cobra"
)

type identityOutput struct {
	Scope        string    `json:"scope"`
	ResourceType string    `json:"resource_type"`
	BusinessKey  string    `json:"business_key"`
	GlobalID     uuid.UUID `json:"global_id"`
	Found        bool      `json:"found"`
}

func newResolveCmd(configPath *string) *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "resolve <resource-type> <business-key>",
		Short: "Return the identifier of a business key, minting one when absent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(a *app, cmd *cobra.Command) error {
				if scope == "" {
					scope = a.rc.LocalScope
				}
				id, err := a.rc.Authority.Resolve(cmd.Context(), scope, args[0], args[1])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), identityOutput{Scope: scope, ResourceType: args[0], BusinessKey: args[1], GlobalID: id, Found: true})
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "Identity scope (default: identity.local_scope)")
	return cmd
}

func newLookupCmd(configPath *string) *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "lookup <resource-type> <business-key>",
		Short: "Return the identifier of a business key without minting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(a *app, cmd *cobra.Command) error {
				if scope == "" {
					scope = a.rc.LocalScope
				}
				id, found, err := a.rc.Authority.Lookup(cmd.Context(), scope, args[0], args[1])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), identityOutput{Scope: scope, ResourceType: args[0], BusinessKey: args[1], GlobalID: id, Found: found})
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "Identity scope (default: identity.local_scope)")
	return cmd
}

type alignOutput struct {
	ResourceType string    `json:"resource_type"`
	LocalKey     string    `json:"local_key"`
	ExternalKey  string    `json:"external_key"`
	GlobalID     uuid.UUID `json:"global_id"`
}

func newAlignCmd(configPath *string) *cobra.Command {
	var (
		fields    []string
		values    map[string]string
		separator string
		verbatim  bool
	)

	cmd := &cobra.Command{
		Use:   "align <resource-type> <local-key>",
		Short: "Resolve a local key, adopting the external authority's identifier when it has one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			transform := identity.UpperStrip
			if verbatim {
				transform = identity.Verbatim
			}
			keyFields := make([]identity.ExternalKeyField, len(fields))
			for i, f := range fields {
				keyFields[i] = identity.ExternalKeyField{Name: f, Transform: transform}
			}
			spec := identity.NewExternalKeySpec(separator, keyFields...)

			return withApp(cmd, *configPath, func(a *app, cmd *cobra.Command) error {
				if a.rc.ExternalScope == "" {
					return fmt.Errorf("identity.external_scope is not configured")
				}
				externalKey, err := spec.Build(values)
				if err != nil {
					return err
				}
				id, err := a.rc.Resolver.ResolveOrAlignWith(cmd.Context(), identityapp.AlignRequest{
					Scope:         a.rc.LocalScope,
					ResourceType:  args[0],
					LocalKey:      args[1],
					ExternalScope: a.rc.ExternalScope,
					Spec:          spec,
					Values:        values,
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), alignOutput{ResourceType: args[0], LocalKey: args[1], ExternalKey: externalKey, GlobalID: id})
			})
		},
	}
	cmd.Flags().StringSliceVar(&fields, "key", nil, "External key fields in order, e.g. surname,forename,practice")
	cmd.Flags().StringToStringVar(&values, "value", nil, "External key field values, e.g. surname=Smith")
	cmd.Flags().StringVar(&separator, "sep", "-", "External key separator")
	cmd.Flags().BoolVar(&verbatim, "verbatim", false, "Use field values as given instead of upper-casing and stripping whitespace")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

type mappingOutput struct {
	MappingType string `json:"mapping_type"`
	LocalKey    string `json:"local_key"`
	LocalValue  string `json:"local_value,omitempty"`
	Found       bool   `json:"found"`
}

func newMappingCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Read and write key/value mappings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "put <mapping-type> <local-key> <local-value>",
		Short: "Store a mapping, replacing any previous value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(a *app, cmd *cobra.Command) error {
				if err := a.rc.Mappings.Put(cmd.Context(), args[0], args[1], args[2]); err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), mappingOutput{MappingType: args[0], LocalKey: args[1], LocalValue: args[2], Found: true})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <mapping-type> <local-key>",
		Short: "Read a mapping",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(a *app, cmd *cobra.Command) error {
				v, found, err := a.rc.Mappings.Get(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), mappingOutput{MappingType: args[0], LocalKey: args[1], LocalValue: v, Found: found})
			})
		},
	})
	return cmd
}
