package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/storecore/store"
	"github.com/tailored-agentic-units/storecore/store/value"
)

var setCmd = &cobra.Command{
	Use:   "set [key] [json-value]",
	Short: "Sets the value for a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := value.FromJSON([]byte(args[1]))
		if err != nil {
			return fmt.Errorf("parse value: %w", err)
		}
		if err := activeStore.Set(context.Background(), args[0], v); err != nil {
			return err
		}
		fmt.Println("set successfully")
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Reads the cached value for a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, ok := activeStore.Get(args[0])
		if !ok {
			fmt.Printf("key=%s, found=false\n", args[0])
			return nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Printf("key=%s, found=true, value=%s\n", args[0], data)
		return nil
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge [key] [json-delta]",
	Short: "Merges a delta into the value for a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := value.FromJSON([]byte(args[1]))
		if err != nil {
			return fmt.Errorf("parse delta: %w", err)
		}
		if err := activeStore.Merge(context.Background(), args[0], v); err != nil {
			return err
		}
		fmt.Println("merge successfully")
		return nil
	},
}

var mergeCollectionCmd = &cobra.Command{
	Use:   "mergeCollection [collectionKeyPrefix] [memberId=json-delta]...",
	Short: "Merges deltas into every named member of a collection",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		members, err := parseMemberPairs(args[0], args[1:])
		if err != nil {
			return err
		}
		if err := activeStore.MergeCollection(context.Background(), args[0], members); err != nil {
			return err
		}
		fmt.Println("mergeCollection successfully")
		return nil
	},
}

var setCollectionCmd = &cobra.Command{
	Use:   "setCollection [collectionKeyPrefix] [memberId=json-value]...",
	Short: "Replaces a collection's members wholesale",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		members, err := parseMemberPairs(args[0], args[1:])
		if err != nil {
			return err
		}
		if err := activeStore.SetCollection(context.Background(), args[0], members); err != nil {
			return err
		}
		fmt.Println("setCollection successfully")
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear [keysToPreserve...]",
	Short: "Resets the store to its default key states",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := activeStore.Clear(context.Background(), args); err != nil {
			return err
		}
		fmt.Println("clear successfully")
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update [ops-json-file]",
	Short: "Applies a batch of heterogeneous operations from a JSON file of update ops",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ops, err := loadUpdateOps(args[0])
		if err != nil {
			return err
		}
		if err := activeStore.Update(context.Background(), ops); err != nil {
			return err
		}
		fmt.Println("update successfully")
		return nil
	},
}

// parseMemberPairs parses "memberId=json-value" operands into a member map
// keyed by the full collection key (collectionKeyPrefix + memberId).
func parseMemberPairs(collectionKey string, pairs []string) (map[string]*value.Value, error) {
	out := make(map[string]*value.Value, len(pairs))
	for _, pair := range pairs {
		id, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("malformed member pair %q, want memberId=json-value", pair)
		}
		v, err := value.FromJSON([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", id, err)
		}
		out[collectionKey+id] = v
	}
	return out, nil
}

// updateOpDoc mirrors store.UpdateOp with JSON-friendly scalar/map fields,
// since store.UpdateOp's *value.Value fields don't round-trip through
// encoding/json without this intermediate shape.
type updateOpDoc struct {
	Method         string                     `json:"method"`
	Key            string                     `json:"key,omitempty"`
	Value          json.RawMessage            `json:"value,omitempty"`
	Data           map[string]json.RawMessage `json:"data,omitempty"`
	Members        map[string]json.RawMessage `json:"members,omitempty"`
	KeysToPreserve []string                   `json:"keysToPreserve,omitempty"`
}

func loadUpdateOps(path string) ([]store.UpdateOp, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ops file: %w", err)
	}
	var docs []updateOpDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("parse ops file: %w", err)
	}

	ops := make([]store.UpdateOp, 0, len(docs))
	for _, d := range docs {
		op := store.UpdateOp{Method: store.UpdateMethod(d.Method), Key: d.Key, KeysToPreserve: d.KeysToPreserve}
		if d.Value != nil {
			v, err := value.FromJSON(d.Value)
			if err != nil {
				return nil, fmt.Errorf("op %q value: %w", d.Method, err)
			}
			op.Value = v
		}
		if d.Data != nil {
			op.Data, err = decodeRawMap(d.Data)
			if err != nil {
				return nil, fmt.Errorf("op %q data: %w", d.Method, err)
			}
		}
		if d.Members != nil {
			op.Members, err = decodeRawMap(d.Members)
			if err != nil {
				return nil, fmt.Errorf("op %q members: %w", d.Method, err)
			}
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func decodeRawMap(raw map[string]json.RawMessage) (map[string]*value.Value, error) {
	out := make(map[string]*value.Value, len(raw))
	for k, r := range raw {
		v, err := value.FromJSON(r)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
