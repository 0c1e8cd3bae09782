package sqlinline

const QInsertTask = `--sql c89a109e-0f98-42a7-92e0-ab730a1e1414
insert into generation_tasks (id, status, progress, progress_message, inputs, created_at, updated_at)
values ($1::uuid, 'PENDING', 0, $2::text, $3::jsonb, now(), now())
returning created_at, updated_at;
`

const QSelectTask = `--sql 7588e3f5-8090-4bd1-8502-164785db217f
select id::text, status, progress, coalesce(progress_message, ''), inputs, result, coalesce(error, ''), created_at, updated_at
from generation_tasks
where id = $1::uuid
limit 1;
`

// QClaimTask moves a PENDING task to PROCESSING; zero rows means another
// execution already owns it or it is terminal.
const QClaimTask = `--sql 29537ce8-3f85-4f3c-9146-8a4eb07a0280
update generation_tasks
set status = 'PROCESSING',
    progress = greatest(progress, $2::int),
    progress_message = $3::text,
    updated_at = now()
where id = $1::uuid
  and status = 'PENDING';
`

const QUpdateTaskProgress = `--sql a84943ae-df07-4400-8c73-7d45938f7202
update generation_tasks
set progress = $2::int,
    progress_message = $3::text,
    updated_at = now()
where id = $1::uuid
  and status = 'PROCESSING'
  and progress <= $2::int;
`

const QMarkTaskTerminal = `--sql 1b938dc0-a12a-4e8b-8df2-639dd2898805
update generation_tasks
set status = $2::text,
    progress = greatest(progress, $3::int),
    result = $4::jsonb,
    error = nullif($5::text, ''),
    updated_at = now()
where id = $1::uuid
  and status in ('PENDING', 'PROCESSING');
`
