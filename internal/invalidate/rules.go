package invalidate

// ruleKind tags how a cascade for a (service, resourceType) pair is scoped.
type ruleKind int

const (
	// ruleResource invalidates only entries whose key contains the resource
	// identifier, within the service's namespace.
	ruleResource ruleKind = iota
	// ruleServiceWide invalidates the entire service namespace. Used where
	// list operations are too interdependent for a narrow match: mutating
	// one resource changes the answer of listings that never mention it.
	ruleServiceWide
)

func (k ruleKind) String() string {
	if k == ruleServiceWide {
		return "service-wide"
	}
	return "resource"
}

// cascadeRules maps service → resourceType → scope. Services absent from
// the table, and resource types absent within a service, fall back to a
// narrow resource match.
var cascadeRules = map[string]map[string]ruleKind{
	"stepfunctions": {
		"execution": ruleResource,
		// State machine definitions feed every execution listing.
		"stateMachine": ruleServiceWide,
	},
	"s3": {
		"object": ruleResource,
		// Bucket-level changes affect list-buckets, location, policy and
		// versioning answers at once.
		"bucket": ruleServiceWide,
	},
	"ec2": {
		"instance": ruleResource,
		"volume":   ruleResource,
		// VPC and security group mutations ripple through describe calls
		// that filter on them without naming them.
		"vpc":           ruleServiceWide,
		"securityGroup": ruleServiceWide,
	},
	"dynamodb": {
		"table": ruleResource,
	},
	"lambda": {
		"function": ruleResource,
	},
	"iam": {
		// IAM resources are global and heavily cross-referenced; narrow
		// invalidation leaves stale attached-policy and membership listings.
		"role":   ruleServiceWide,
		"user":   ruleServiceWide,
		"policy": ruleServiceWide,
	},
	"cloudformation": {
		// A stack mutation changes the resources of everything it manages.
		"stack": ruleServiceWide,
	},
}

func lookupRule(service, resourceType string) ruleKind {
	byType, ok := cascadeRules[service]
	if !ok {
		return ruleResource
	}
	rule, ok := byType[resourceType]
	if !ok {
		return ruleResource
	}
	return rule
}
