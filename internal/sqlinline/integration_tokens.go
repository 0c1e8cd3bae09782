package sqlinline

// Provider API keys for text and image generation. One row per provider.

const QSelectIntegrationToken = `--sql 3c1f6a2e-94d7-4b0e-8f55-0d2a7c9e41b6
select token
from integration_tokens
where provider = $1::text
  and token <> ''
limit 1;
`

const QUpsertIntegrationToken = `--sql b7e2d914-5a3c-4f08-9e61-c48f0a2d7e35
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`
