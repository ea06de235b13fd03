package bootstrap

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"

	"chordring/internal/chordnode"
	"chordring/internal/config"
)

// Route53Bootstrap discovers seed peers by listing the TXT records under a
// hosted zone's record name, one value per live node's advertised address,
// and keeps its own entry present for the lifetime of the process: cheap,
// DNS-native service discovery for a cloud deployment with no separate
// registry to run.
type Route53Bootstrap struct {
	client       *route53.Client
	hostedZoneID string
	recordName   string
	space        chordnode.Space
}

// NewRoute53Bootstrap loads AWS credentials from the default provider chain
// (environment, shared config, or instance role) and builds a Route53
// client scoped to cfg's hosted zone and record name.
func NewRoute53Bootstrap(ctx context.Context, cfg config.Route53Config, space chordnode.Space) (*Route53Bootstrap, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: loading AWS config: %w", err)
	}
	return &Route53Bootstrap{
		client:       route53.NewFromConfig(awsCfg),
		hostedZoneID: cfg.HostedZoneID,
		recordName:   cfg.RecordName,
		space:        space,
	}, nil
}

func (b *Route53Bootstrap) Discover(ctx context.Context) ([]chordnode.NodeInfo, error) {
	out, err := b.client.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId:    &b.hostedZoneID,
		StartRecordName: &b.recordName,
		StartRecordType: types.RRTypeTxt,
		MaxItems:        aws1(int32(1)),
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: listing route53 records: %w", err)
	}

	var peers []chordnode.NodeInfo
	for _, rrset := range out.ResourceRecordSets {
		if rrset.Name == nil || !strings.EqualFold(strings.TrimSuffix(*rrset.Name, "."), strings.TrimSuffix(b.recordName, ".")) {
			continue
		}
		for _, rr := range rrset.ResourceRecords {
			if rr.Value == nil {
				continue
			}
			addr := strings.Trim(*rr.Value, `"`)
			if addr == "" {
				continue
			}
			peers = append(peers, chordnode.NodeInfo{Address: addr, ID: b.space.NodeID(addr)})
		}
	}
	return peers, nil
}

// Register adds self's address to the TXT record, preserving whatever
// peers are already listed there.
func (b *Route53Bootstrap) Register(ctx context.Context, self chordnode.NodeInfo) error {
	peers, err := b.Discover(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: register: %w", err)
	}
	values := addressesOf(peers)
	if !contains(values, self.Address) {
		values = append(values, self.Address)
	}
	return b.upsert(ctx, values)
}

// Deregister removes self's address from the TXT record.
func (b *Route53Bootstrap) Deregister(ctx context.Context, self chordnode.NodeInfo) error {
	peers, err := b.Discover(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: deregister: %w", err)
	}
	values := remove(addressesOf(peers), self.Address)
	if len(values) == 0 {
		return b.delete(ctx, []string{self.Address})
	}
	return b.upsert(ctx, values)
}

func (b *Route53Bootstrap) upsert(ctx context.Context, addresses []string) error {
	records := make([]types.ResourceRecord, 0, len(addresses))
	for _, addr := range addresses {
		quoted := fmt.Sprintf("%q", addr)
		records = append(records, types.ResourceRecord{Value: &quoted})
	}
	_, err := b.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: &b.hostedZoneID,
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{
				{
					Action: types.ChangeActionUpsert,
					ResourceRecordSet: &types.ResourceRecordSet{
						Name:            &b.recordName,
						Type:            types.RRTypeTxt,
						TTL:             aws1(int64(30)),
						ResourceRecords: records,
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("bootstrap: upserting route53 record: %w", err)
	}
	return nil
}

// delete removes the TXT record entirely. Route53 requires a DELETE
// change's ResourceRecords to match the record's current contents exactly,
// so addresses must be the full, current value set.
func (b *Route53Bootstrap) delete(ctx context.Context, addresses []string) error {
	records := make([]types.ResourceRecord, 0, len(addresses))
	for _, addr := range addresses {
		quoted := fmt.Sprintf("%q", addr)
		records = append(records, types.ResourceRecord{Value: &quoted})
	}
	_, err := b.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: &b.hostedZoneID,
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{
				{
					Action: types.ChangeActionDelete,
					ResourceRecordSet: &types.ResourceRecordSet{
						Name:            &b.recordName,
						Type:            types.RRTypeTxt,
						TTL:             aws1(int64(30)),
						ResourceRecords: records,
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("bootstrap: deleting route53 record: %w", err)
	}
	return nil
}

func addressesOf(peers []chordnode.NodeInfo) []string {
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.Address)
	}
	return out
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}

func remove(values []string, v string) []string {
	out := values[:0]
	for _, existing := range values {
		if existing != v {
			out = append(out, existing)
		}
	}
	return out
}

func aws1[T any](v T) *T { return &v }
