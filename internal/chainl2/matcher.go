package chainl2

import (
	"fmt"

	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/predicate"
)

// Match is the pure, side-effect-free matching function of spec
// §4.D for L2.
func Match(b *Block, p *predicate.Predicate) ([]chain.Occurrence, error) {
	if !p.InBounds(b.Header.ID.Height) {
		return nil, nil
	}

	if p.Trigger.Kind == predicate.TriggerBlockHeight {
		if matchHeight(b.Header.ID.Height, p.Trigger.BlockHeight) {
			return []chain.Occurrence{{BlockID: b.Header.ID, TxIndex: -1, Payload: map[string]any{"height": b.Header.ID.Height}}}, nil
		}
		return nil, nil
	}

	var out []chain.Occurrence
	var firstErr error
	for _, tx := range b.Txs {
		matched, payload, err := matchTx(tx, p.Trigger)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("predicate %s tx %d: %w", p.UUID, tx.Index, err)
			}
			continue
		}
		if matched {
			out = append(out, chain.Occurrence{BlockID: b.Header.ID, TxIndex: tx.Index, Payload: payload})
		}
	}
	return out, firstErr
}

func matchHeight(height uint64, op *predicate.HeightOp) bool {
	if op == nil {
		return false
	}
	switch {
	case op.Equals != nil:
		return height == *op.Equals
	case op.HigherThan != nil:
		return height > *op.HigherThan
	case op.LowerThan != nil:
		return height < *op.LowerThan
	case op.BetweenLow != nil && op.BetweenHi != nil:
		return height >= *op.BetweenLow && height <= *op.BetweenHi
	default:
		return false
	}
}

func matchTx(tx Tx, t predicate.Trigger) (bool, map[string]any, error) {
	switch t.Kind {
	case predicate.TriggerTxid:
		return tx.Txid.String() == t.TxidEquals, map[string]any{"txid": tx.Txid.String()}, nil

	case predicate.TriggerContractDeployment:
		if tx.Deployment == nil || t.ContractDeployment == nil {
			return false, nil, nil
		}
		spec := t.ContractDeployment
		if spec.Deployer != "" && tx.Deployment.Deployer != spec.Deployer {
			return false, nil, nil
		}
		if spec.ImplementTrait != "" && spec.ImplementTrait != "*" {
			if !containsString(tx.Deployment.ImplementedTraits, spec.ImplementTrait) {
				return false, nil, nil
			}
		} else if spec.ImplementTrait == "*" && len(tx.Deployment.ImplementedTraits) == 0 {
			return false, nil, nil
		}
		return true, map[string]any{"contract_identifier": tx.Deployment.ContractIdentifier, "deployer": tx.Deployment.Deployer}, nil

	case predicate.TriggerContractCall:
		if tx.ContractCall == nil || t.ContractCall == nil {
			return false, nil, nil
		}
		if tx.ContractCall.ContractIdentifier == t.ContractCall.ContractIdentifier && tx.ContractCall.Method == t.ContractCall.Method {
			return true, map[string]any{"contract_identifier": tx.ContractCall.ContractIdentifier, "method": tx.ContractCall.Method}, nil
		}
		return false, nil, nil

	case predicate.TriggerPrintEvent:
		if t.PrintEvent == nil {
			return false, nil, nil
		}
		for _, ev := range tx.PrintEvents {
			if ev.ContractIdentifier != t.PrintEvent.ContractIdentifier {
				continue
			}
			ok, err := t.PrintEvent.Rule.MatchString(ev.Value)
			if err != nil {
				return false, nil, err
			}
			if ok {
				return true, map[string]any{"contract_identifier": ev.ContractIdentifier, "value": ev.Value}, nil
			}
		}
		return false, nil, nil

	case predicate.TriggerFtEvent:
		return matchAssetEvents(tx.FtEvents, t.AssetEvent)
	case predicate.TriggerNftEvent:
		return matchAssetEvents(tx.NftEvents, t.AssetEvent)
	case predicate.TriggerStxEvent:
		return matchAssetEvents(tx.StxEvents, t.AssetEvent)

	default:
		return false, nil, fmt.Errorf("unsupported L2 trigger kind %q", t.Kind)
	}
}

func matchAssetEvents(events []AssetEvent, spec *predicate.AssetEventSpec) (bool, map[string]any, error) {
	if spec == nil {
		return false, nil, nil
	}
	for _, ev := range events {
		if spec.AssetIdentifier != "" && ev.AssetIdentifier != spec.AssetIdentifier {
			continue
		}
		if !containsString(spec.Actions, ev.Kind) {
			continue
		}
		return true, map[string]any{"kind": ev.Kind, "asset_identifier": ev.AssetIdentifier}, nil
	}
	return false, nil, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
