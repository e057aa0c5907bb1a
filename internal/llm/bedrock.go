package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// converser is the part of the Bedrock runtime client we use.
type converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock generates answers through the Bedrock Converse API.
type Bedrock struct {
	client  converser
	modelID string
}

var _ Generator = (*Bedrock)(nil)

// NewBedrock loads AWS credentials from the default chain.
func NewBedrock(ctx context.Context, region, modelID string) (*Bedrock, error) {
	if modelID == "" {
		return nil, fmt.Errorf("bedrock model id required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Bedrock{client: bedrockruntime.NewFromConfig(cfg), modelID: modelID}, nil
}

// Generate runs one Converse call and joins the text blocks of the reply.
func (b *Bedrock) Generate(ctx context.Context, system, user string) (string, error) {
	out, err := b.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.modelID),
		System:  []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}},
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: user}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(Temperature),
			MaxTokens:   aws.Int32(MaxTokens),
		},
	})
	if err != nil {
		return "", fmt.Errorf("bedrock converse: %w", wrapFatalError(err))
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("bedrock converse: unexpected output %T", out.Output)
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("bedrock converse: empty reply")
	}
	return sb.String(), nil
}

// Model returns the Bedrock model id.
func (b *Bedrock) Model() string {
	return b.modelID
}
